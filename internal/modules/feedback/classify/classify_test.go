package classify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/platform/llm/llmtest"
)

func newGateway(client *llmtest.Fake, inFlight int) *Gateway {
	return NewGateway(logger.Nop(), client, GatewayConfig{MaxInFlight: inFlight, CallTimeout: time.Second})
}

func TestScorerDefaultsOnFailure(t *testing.T) {
	fake := llmtest.NewFake().OnError("relevance_score", errors.New("timeout"))
	res, err := NewScorer(newGateway(fake, 1)).Score(context.Background(), ScoreInput{Text: "hi"})
	require.Error(t, err)
	require.True(t, res.Defaulted)
	require.Equal(t, DefaultRelevanceScore, res.Score)

	fake = llmtest.NewFake().OnJSON("relevance_score", `not json`)
	res, err = NewScorer(newGateway(fake, 1)).Score(context.Background(), ScoreInput{Text: "hi"})
	require.Error(t, err)
	require.True(t, res.Defaulted)
}

func TestScorerTruncatesText(t *testing.T) {
	var seen int
	fake := llmtest.NewFake().On("relevance_score", func(_, user string) (json.RawMessage, error) {
		seen = len([]rune(user))
		return json.RawMessage(`{"score": 9, "reasoning": "ok"}`), nil
	})
	long := make([]rune, MaxScoreTextRunes*2)
	for i := range long {
		long[i] = 'x'
	}
	res, err := NewScorer(newGateway(fake, 1)).Score(context.Background(), ScoreInput{Text: string(long)})
	require.NoError(t, err)
	require.Equal(t, 9.0, res.Score)
	require.Less(t, seen, MaxScoreTextRunes+500)
}

func TestExtractorDropsUnknownIDs(t *testing.T) {
	known := ThemeRef{ID: uuid.New(), Name: "Reporting"}
	body := `{"has_feature": true, "confidence": 0.9,
		"feature": {"title": "CSV export"},
		"theme_assignment": {"theme_id": "` + uuid.NewString() + `", "theme_name": "Made up", "confidence": 0.7},
		"feature_match": {"feature_id": "` + uuid.NewString() + `", "confidence": 0.99}}`
	fake := llmtest.NewFake().OnJSON("feature_extract", body)
	res, err := NewExtractor(newGateway(fake, 1)).Extract(context.Background(), ExtractInput{
		Text:   "please add csv export",
		Themes: []ThemeRef{known},
	})
	require.NoError(t, err)
	require.Nil(t, res.Theme.ThemeID)
	require.Equal(t, "Made up", res.Theme.ThemeName)
	require.Nil(t, res.Match.FeatureID)
	require.Zero(t, res.Match.Confidence)

	body = `{"has_feature": true, "confidence": 0.9, "feature": {"title": "CSV export"},
		"theme_assignment": {"theme_id": "` + known.ID.String() + `", "theme_name": null, "confidence": 0.7}}`
	fake = llmtest.NewFake().OnJSON("feature_extract", body)
	res, err = NewExtractor(newGateway(fake, 1)).Extract(context.Background(), ExtractInput{
		Text:   "please add csv export",
		Themes: []ThemeRef{known},
	})
	require.NoError(t, err)
	require.Equal(t, known.ID, *res.Theme.ThemeID)
	require.Equal(t, "Reporting", res.Theme.ThemeName)
}

func TestComparatorSkipsCallWithoutCandidates(t *testing.T) {
	fake := llmtest.NewFake()
	res, err := NewComparator(newGateway(fake, 1)).Compare(context.Background(), CompareFact{Title: "x"}, nil)
	require.NoError(t, err)
	require.Nil(t, res.FeatureID)
	require.Zero(t, fake.Calls("feature_compare"))
}

func TestGatewayCapsInFlightCalls(t *testing.T) {
	var cur, peak int32
	fake := llmtest.NewFake().On("relevance_score", func(string, string) (json.RawMessage, error) {
		n := atomic.AddInt32(&cur, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&cur, -1)
		return json.RawMessage(`{"score": 1}`), nil
	})
	scorer := NewScorer(newGateway(fake, 2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = scorer.Score(context.Background(), ScoreInput{Text: "x"})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	require.Equal(t, 8, fake.Calls("relevance_score"))
}
