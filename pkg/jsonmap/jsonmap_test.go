package jsonmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestFromStringMap(t *testing.T) {
	require.Equal(t, datatypes.JSONMap{}, FromStringMap(nil))
	require.Equal(t, datatypes.JSONMap{"MORPH_ZONE": "us-east-1"}, FromStringMap(map[string]string{"MORPH_ZONE": "us-east-1"}))
}

func TestMerge(t *testing.T) {
	require.Equal(t, datatypes.JSONMap{"MORPH_A": "1"}, Merge(nil, map[string]string{"MORPH_A": "1"}))

	got := Merge(datatypes.JSONMap{"MORPH_A": "1", "MORPH_B": "2"}, map[string]string{
		"MORPH_A": "",
		"MORPH_C": "3",
	})
	require.Equal(t, datatypes.JSONMap{"MORPH_B": "2", "MORPH_C": "3"}, got)
}

func TestWithPrefix(t *testing.T) {
	require.Equal(t, map[string]string{}, WithPrefix(nil, "MORPH_"))
	require.Equal(t, map[string]string{"MORPH_ATTEMPT": "2", "MORPH_ZONE": "us-east-1"}, WithPrefix(datatypes.JSONMap{
		"MORPH_ZONE":    "us-east-1",
		"MORPH_ATTEMPT": 2,
		"SECRET":        "hidden",
	}, "MORPH_"))
}
