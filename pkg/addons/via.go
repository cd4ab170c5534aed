package addons

import (
	"github.com/halverson/webtap/pkg/pipeline"
)

// Via returns a middleware unit that stamps forwarded requests and
// returned responses with a Via header naming this hop.
func Via(hop string) *pipeline.Middleware {
	if hop == "" {
		hop = "1.1 webtap"
	}
	return &pipeline.Middleware{
		Name: "via",
		Request: func(req *pipeline.Request, next pipeline.Next) {
			req.Header.Add("Via", hop)
			next(nil)
		},
		Response: func(resp *pipeline.Response, next pipeline.RespondNext) *pipeline.Response {
			cur := next()
			out := cur.Clone()
			out.Header.Add("Via", hop)
			return out
		},
	}
}
