package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/hmochat-go/internal/corpus"
	"github.com/54b3r/hmochat-go/internal/rag"
)

const dentalPage = `<html><body>
<h2>מרפאות שיניים</h2>
<p>תיאור א</p>
<p>תיאור ב</p>
<table>
<tr><th>שירות</th><th>מכבי</th><th>מאוחדת</th><th>כללית</th></tr>
<tr><td>ניקוי</td><td>זהב: 80% הנחה כסף: 60% הנחה ארד: 40% הנחה</td><td>זהב: חינם כסף: 50% ארד: </td><td>זהב: 70%</td></tr>
<tr><td>שורה חסרה</td><td>זהב: 1</td></tr>
</table>
<h3>מספרי טלפון</h3>
<ul><li>מכבי: 03-1111</li><li>מאוחדת: 03-2222</li><li>כללית: 03-3333</li></ul>
<h3>לפרטים נוספים</h3>
<ul><li>מכבי: טלפון: *3555
אתר: <a href="https://maccabi.example">מכבי</a></li></ul>
</body></html>`

func parseDental(t *testing.T) *Page {
	t.Helper()
	p, err := ParsePage(strings.NewReader(dentalPage))
	require.NoError(t, err)
	return p
}

func TestParsePage(t *testing.T) {
	p := parseDental(t)

	assert.Equal(t, "מרפאות שיניים", p.Category)
	assert.Equal(t, "תיאור א תיאור ב", p.Description)

	require.Len(t, p.Services, 1, "header and short rows are skipped")
	row := p.Services[0]
	assert.Equal(t, "ניקוי", row.Name)
	assert.Equal(t, map[string]string{"gold": "80% הנחה", "silver": "60% הנחה", "bronze": "40% הנחה"}, row.Benefits["maccabi"])
	assert.Equal(t, map[string]string{"gold": "חינם", "silver": "50%"}, row.Benefits["meuhedet"])
	assert.Equal(t, map[string]string{"gold": "70%"}, row.Benefits["clalit"])

	assert.Equal(t, "03-1111", p.Contacts["מספרי טלפון"]["maccabi"])
	assert.Equal(t, "*3555", p.MoreInfo["maccabi"].Phone)
	assert.Equal(t, "https://maccabi.example", p.MoreInfo["maccabi"].Website)
}

func TestParsePageWithoutHeading(t *testing.T) {
	_, err := ParsePage(strings.NewReader("<p>no heading</p>"))
	assert.Error(t, err)
}

func TestPayloads(t *testing.T) {
	payloads := Payloads(parseDental(t))
	require.Len(t, payloads, 9)

	gold := payloads["maccabi/gold"]
	assert.Equal(t, "מכבי", gold.HMO)
	assert.Equal(t, "זהב", gold.Tier)
	assert.Equal(t, []corpus.Service{{Name: "ניקוי", Benefits: "80% הנחה"}}, gold.Services)
	assert.Equal(t, map[string]string{
		"מספרי_טלפון": "03-1111",
		"phone":       "*3555",
		"website":     "https://maccabi.example",
	}, gold.Contact)

	bronze := payloads["meuhedet/bronze"]
	assert.Empty(t, bronze.Services, "empty tier cell yields no service")
	assert.Equal(t, map[string]string{"מספרי_טלפון": "03-2222"}, bronze.Contact)

	assert.Empty(t, payloads["clalit/silver"].Services)
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		out[i] = []float32{float32(len(s)), 1}
	}
	return out, nil
}

type fakeExporter struct{ got *rag.Index }

func (f *fakeExporter) Upsert(_ context.Context, ix *rag.Index) error {
	f.got = ix
	return nil
}

func writeProcessed(t *testing.T) string {
	t.Helper()
	htmlDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(htmlDir, "dental.html"), []byte(dentalPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(htmlDir, "notes.txt"), []byte("ignored"), 0o644))

	processed := t.TempDir()
	n, err := ConvertDir(htmlDir, processed, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	return processed
}

func TestPipelineBuild(t *testing.T) {
	processed := writeProcessed(t)
	out := t.TempDir()
	emb := &fakeEmbedder{}
	exp := &fakeExporter{}

	p, err := NewPipeline(emb, exp, &Config{BatchSize: 4})
	require.NoError(t, err)

	ix, err := p.Build(context.Background(), processed, out, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, ix.Len())
	assert.Equal(t, 2, ix.Dimension())
	assert.EqualValues(t, 3, emb.calls.Load(), "9 records in batches of 4")
	assert.Same(t, ix, exp.got)

	records, err := corpus.Load(out)
	require.NoError(t, err)
	require.Len(t, records, 9)
	assert.Equal(t, "dental_clalit_bronze", records[0].ID)

	r, ok := ix.Record("dental_maccabi_gold")
	require.True(t, ok)
	assert.Equal(t, "maccabi", r.HMO)
	assert.Equal(t, corpus.FlattenText(r.Payload), r.Text)
	assert.Contains(t, r.Text, "Service Name: ניקוי")
}

func TestPipelineEmbeddingFailure(t *testing.T) {
	processed := writeProcessed(t)
	boom := errors.New("boom")

	p, err := NewPipeline(&fakeEmbedder{err: boom}, nil, nil)
	require.NoError(t, err)

	_, err = p.Build(context.Background(), processed, t.TempDir(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestPipelineEmptyTree(t *testing.T) {
	p, err := NewPipeline(&fakeEmbedder{}, nil, nil)
	require.NoError(t, err)

	_, err = p.Build(context.Background(), t.TempDir(), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestNewPipelineRequiresEmbedder(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil)
	assert.Error(t, err)
}
