package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_RawObject(t *testing.T) {
	var out map[string]interface{}
	err := ParseJSON(`{"related_flag": true, "column_names": ["a", "b"]}`, &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["related_flag"])
}

func TestParseJSON_FencedBlock(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"tb_code_list\": [\"t1\", \"t2\"]}\n```\nLet me know if you need more."
	var out struct {
		TbCodeList []string `json:"tb_code_list"`
	}
	err := ParseJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, out.TbCodeList)
}

func TestParseJSON_NoJSONReturnsError(t *testing.T) {
	var out map[string]interface{}
	err := ParseJSON("no json here at all", &out)
	assert.Error(t, err)
}
