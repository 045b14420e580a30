package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/odvcencio/affilink/pkg/errors"
)

func TestDecodeSignal(t *testing.T) {
	sig, err := DecodeSignal([]byte(`{"action":"DETAILS_SCRAPED","data":{"name":"A"}}`))
	require.NoError(t, err)
	assert.Equal(t, ActionDetailsScraped, sig.Action)
	assert.JSONEq(t, `{"name":"A"}`, string(sig.Data))
	assert.True(t, sig.Known())

	sig, err = DecodeSignal([]byte(`{"action":"LINK_GENERATED","link":"https://s.shopee.vn/abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://s.shopee.vn/abc", sig.Link)

	sig, err = DecodeSignal([]byte(`{"action":"SOMETHING_ELSE"}`))
	require.NoError(t, err)
	assert.False(t, sig.Known())
}

func TestDecodeSignalRejectsBadInput(t *testing.T) {
	for _, payload := range []string{`not json`, `{}`, `{"action":"  "}`, `[]`} {
		_, err := DecodeSignal([]byte(payload))
		require.Error(t, err, payload)
		assert.True(t, errs.IsCode(err, errs.ErrCodeInvalidInput), payload)
	}
}

func TestCommandWireFormat(t *testing.T) {
	out, err := json.Marshal(NewLinkFlowCommand("https://x/product/1/999", "abc123"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"EXECUTE_CUSTOM_LINK_FLOW","url":"https://x/product/1/999","subId":"abc123"}`, string(out))
}
