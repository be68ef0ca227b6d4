// Pager serves a paginated dataset behind a leaky-bucket admission controller
// and fetches from it with a self-throttling record stream.
//
// Usage:
//
//	# Start the server with built-in defaults and synthetic records
//	pager serve
//
//	# Start with a configuration file
//	pager serve --config config/local.yaml
//
//	# Stream every record as JSON lines
//	pager fetch --fields name,piani --page-size 20
//
//	# Show the last bucket snapshot recorded in Redis
//	pager status
package main

func main() {
	Execute()
}
