package models

// All lists every model managed by morph, in migration order.
var All = []interface{}{
	&Scraper{},
	&Run{},
	&LogLine{},
	&Metric{},
}
