package visa1

import (
	"fmt"

	"github.com/arloliu/go-visa1/iso8583"
)

// DeclineResponse builds the response skeleton for req: a clone turned
// incoming, with the response MTI and the decline action code.
func DeclineResponse(req *iso8583.Message) *iso8583.Message {
	resp := req.Clone()
	resp.SetDirection(iso8583.Incoming)
	resp.SetMTI(iso8583.ResponseMTI(req.MTI()))
	_ = resp.Set(iso8583.FieldResponseCode, iso8583.ResponseDeclined)

	return resp
}

// BuildResponse correlates raw response bytes with req.
//
// A nil raw means the peer did not answer and yields the decline skeleton.
// Otherwise raw is unpacked over the skeleton so the decoded fields replace
// the defaults. When unpacking fails the skeleton is returned together with
// an error wrapping ErrUnpack.
func BuildResponse(req *iso8583.Message, raw []byte, codec iso8583.Codec) (*iso8583.Message, error) {
	resp := DeclineResponse(req)
	if raw == nil {
		return resp, nil
	}

	decoded := resp.Clone()
	if err := codec.Unpack(raw, decoded); err != nil {
		return resp, fmt.Errorf("%w: %w", ErrUnpack, err)
	}
	decoded.SetDirection(iso8583.Incoming)

	return decoded, nil
}
