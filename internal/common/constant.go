package common

// AccessTokenHeaderName is the gRPC metadata key (and websocket query
// parameter) carrying the access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// Demo card slugs never touch the cache or the network.
const DemoSlug = "demo"
