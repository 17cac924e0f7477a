// Package quotes fetches intraday price ticks from the HTTP quote source.
//
// The source is called once per collector run:
//
//	GET <url>?date=YYYY-MM-DD&symbols=AAPL,MSFT
//
// and answers {"ticks":[{"symbol":"AAPL","ts":"...","price":"218.34","volume":100}]}.
// Prices may be JSON strings or numbers; both decode into decimal.Decimal.
// Auth headers are injected by a RoundTripper (apikey | bearer | none).
package quotes
