package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalNormalizesSceneNamespace(t *testing.T) {
	state, err := Unmarshal([]byte(`{"user_id":1,"scene":"s","page":"p","message_id":0,"data":null}`))
	require.NoError(t, err)
	require.NotNil(t, state.Data[SceneNamespace])
}

func TestCloneIsDeep(t *testing.T) {
	orig := SessionState{UserID: 1, SceneType: "s", Page: "p", Data: Data{
		"p": {"list": []any{"a", map[string]any{"k": "v"}}, "tags": []string{"x"}},
	}}
	cp := orig.Clone()
	cp.Data["p"]["list"].([]any)[1].(map[string]any)["k"] = "changed"
	cp.Data["p"]["tags"].([]string)[0] = "y"
	require.Equal(t, "v", orig.Data["p"]["list"].([]any)[1].(map[string]any)["k"])
	require.Equal(t, "x", orig.Data["p"]["tags"].([]string)[0])
}

func TestValidate(t *testing.T) {
	require.Error(t, SessionState{}.Validate())
	require.Error(t, SessionState{UserID: 1, Page: "p"}.Validate())
	require.Error(t, SessionState{UserID: 1, SceneType: "s"}.Validate())
	require.Error(t, SessionState{UserID: 1, SceneType: "s", Page: "p", MessageID: -1}.Validate())
	require.NoError(t, SessionState{UserID: 1, SceneType: "s", Page: "p"}.Validate())
}
