package parameters

import (
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewFromConfigString(t *testing.T) {
	params := NewFromConfigString("epochs=5, amp,,expr=a=b")
	require.Equal(t, Params{"epochs": "5", "amp": "", "expr": "a=b"}, params)
	require.Equal(t, "amp,epochs=5,expr=a=b", params.String())
	require.Empty(t, NewFromConfigString(""))
}

func TestGetParamOr(t *testing.T) {
	params := NewFromConfigString("i=3,f=0.5,b,nb=false,s=x,empty=,bad=y")
	i, err := GetParamOr(params, "i", 1)
	require.NoError(t, err)
	require.Equal(t, 3, i)
	f32, err := GetParamOr(params, "f", float32(1))
	require.NoError(t, err)
	require.Equal(t, float32(0.5), f32)
	f64, err := GetParamOr(params, "f", 1.0)
	require.NoError(t, err)
	require.Equal(t, 0.5, f64)
	b, err := GetParamOr(params, "b", false)
	require.NoError(t, err)
	require.True(t, b)
	b, err = GetParamOr(params, "nb", true)
	require.NoError(t, err)
	require.False(t, b)
	s, err := GetParamOr(params, "s", "")
	require.NoError(t, err)
	require.Equal(t, "x", s)

	// Missing or empty keys return the default.
	i, err = GetParamOr(params, "missing", 7)
	require.NoError(t, err)
	require.Equal(t, 7, i)
	i, err = GetParamOr(params, "empty", 7)
	require.NoError(t, err)
	require.Equal(t, 7, i)

	_, err = GetParamOr(params, "bad", 0)
	require.Error(t, err)
	_, err = GetParamOr(params, "bad", false)
	require.Error(t, err)
	_, err = GetParamOr(params, "bad", 0.0)
	require.Error(t, err)
}

func TestPopParamOr(t *testing.T) {
	params := NewFromConfigString("epochs=5,typo=1")
	epochs, err := PopParamOr(params, "epochs", 10)
	require.NoError(t, err)
	require.Equal(t, 5, epochs)
	require.NotContains(t, params, "epochs")

	err = CheckAllUsed(params)
	require.ErrorContains(t, err, "typo=1")
	delete(params, "typo")
	require.NoError(t, CheckAllUsed(params))
}
