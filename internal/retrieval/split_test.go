package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences_DropsShortStatements(t *testing.T) {
	out := splitSentences("Show me the revenue. Ok. 按地区统计销量。")
	assert.Equal(t, []string{"Show me the revenue", "按地区统计销量"}, out)
}

func TestSplitSentences_MixedPunctuation(t *testing.T) {
	out := splitSentences("客户满意度如何？Please also check churn rate!")
	assert.Equal(t, []string{"客户满意度如何", "Please also check churn rate"}, out)
}

func TestSplitSentences_Empty(t *testing.T) {
	assert.Empty(t, splitSentences(""))
	assert.Empty(t, splitSentences("ab. c."))
}
