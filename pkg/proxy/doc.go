// Package proxy forwards admitted requests to the single upstream service
// the gateway protects.
//
// The forwarder is an httputil.ReverseProxy with the gateway's error
// handling: transport failures become a 502 JSON body in the same shape the
// admission middleware uses for rejections, so the middleware counts them as
// upstream failures.
//
//	fwd, err := proxy.New(proxy.Config{
//	    UpstreamURL: "http://127.0.0.1:9000",
//	    Logger:      logger,
//	})
//	if err != nil {
//	    return err
//	}
//	handler := middleware.LimitsMiddleware(current, opts)(fwd)
//
// Request headers pass through unchanged apart from the hop-by-hop set the
// standard library removes. X-Forwarded-For, X-Forwarded-Host and
// X-Forwarded-Proto are set from the inbound request.
package proxy
