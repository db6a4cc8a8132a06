package callback

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	field := gen.RegexMatch(`[a-z0-9_\-]{0,8}`)
	properties.Property("decode(encode(scene, kind, a, b)) yields kind and [a, b]", prop.ForAll(
		func(scene, a, b string) bool {
			token, err := Encode(scene, KindPage, a, b)
			if err != nil {
				return false
			}
			decoded, err := Decode(token)
			if err != nil {
				return false
			}
			return decoded.Kind == KindPage &&
				decoded.SceneType == scene &&
				len(decoded.Args) == 2 &&
				decoded.Args[0] == a &&
				decoded.Args[1] == b
		},
		field, field, field,
	))

	properties.TestingRun(t)
}

func TestEncodeRejectsSeparatorInArgument(t *testing.T) {
	_, err := Encode("booking", KindPage, "select", "a:b")
	require.ErrorIs(t, err, ErrSeparator)
}

func TestEncodeRejectsOversizedToken(t *testing.T) {
	_, err := Encode("booking", KindPage, strings.Repeat("x", MaxLen))
	require.ErrorIs(t, err, ErrTooLong)
}

func TestDecodeMalformedTokens(t *testing.T) {
	cases := map[string]string{
		"too few fields": "sc:p",
		"wrong prefix":   "xx:p:booking:select",
		"empty":          "",
		"empty kind":     "sc::booking",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(token)
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "expected ProtocolError, got %v", err)
			require.Equal(t, token, perr.Token)
		})
	}
}

func TestDecodeWithoutArgs(t *testing.T) {
	token, err := Encode("booking", KindToPage)
	require.NoError(t, err)
	decoded, err := Decode(token)
	require.NoError(t, err)
	require.Empty(t, decoded.Args)
	require.Equal(t, "", decoded.Arg(0))
	require.True(t, IsToken(token))
	require.False(t, IsToken("hello"))
}
