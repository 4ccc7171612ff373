/*
Package fetch provides the source transports used to load asset bytes.

The Dispatcher routes each fetch by the source location's URL scheme:
http/https to the HTTP fetcher, s3 to the S3 fetcher. Unknown schemes fail
with SOURCE_UNSUPPORTED, which the loader never retries.

All transports honor the per-attempt context deadline supplied by the
loader and report timeouts as FETCH_TIMEOUT, distinguishable from other
fetch failures (FETCH_FAILED). Both are retryable; the retry policy lives
in the loader, not here.
*/
package fetch
