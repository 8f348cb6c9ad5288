// Package virustotal implements analysis.Client against the VirusTotal v3
// REST API. Requests are rate limited client-side; polls are retried with
// exponential backoff on throttling, server and network errors. Uploads are
// never retried.
package virustotal
