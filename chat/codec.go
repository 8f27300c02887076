package chat

import "encoding/base64"

// A Codec transforms message content between its stored and delivered forms.
// The default implementation is a reversible base64 encoding and provides no
// confidentiality; a real cipher can be substituted without touching the
// message pipeline.
type Codec interface {
	Encode(plain string) string
	Decode(token string) string
}

// Base64Codec is the default reversible codec.
type Base64Codec struct{}

func (Base64Codec) Encode(plain string) string {
	return base64.StdEncoding.EncodeToString([]byte(plain))
}

// Decode returns the decoded text, or the token unchanged when it is not
// valid base64. Returning the input keeps delivery working for content that
// was stored unencoded but flagged otherwise.
func (Base64Codec) Decode(token string) string {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return token
	}
	return string(b)
}
