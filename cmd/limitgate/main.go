// limitgate is an admission-control gateway.
//
// It sits in front of one upstream HTTP service and admits each request
// against an ordered table of pattern rules, each with a permit budget per
// fixed window. The first rule whose pattern matches the request decides.
//
// Usage:
//
//	# Start the gateway
//	limitgate run --config limitgate.yaml
//
//	# Validate the configuration and list the rules
//	limitgate validate --config limitgate.yaml
//
//	# Replay request lines through the configured rules
//	printf 'GET /reports\nGET /reports\n' | limitgate check
//
//	# Show persisted rule snapshots
//	limitgate state
package main

func main() {
	Execute()
}
