package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ultrawork/internal/store"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, f)

	_, err = ParseFormat("yaml")
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

func TestOK_TableMode(t *testing.T) {
	var out, errw bytes.Buffer
	p := NewPrinter(&out, &errw, FormatTable)

	p.OK("session %s created", "s1")
	require.Contains(t, out.String(), "OK:")
	require.Contains(t, out.String(), "session s1 created")
	require.Empty(t, errw.String())
}

func TestOK_JSONMode(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, io.Discard, FormatJSON)

	p.OK("done")

	var doc struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	require.True(t, doc.OK)
	require.Equal(t, "done", doc.Message)
}

func TestFail_WritesStderr(t *testing.T) {
	var out, errw bytes.Buffer
	p := NewPrinter(&out, &errw, FormatTable)

	p.Fail(errors.New("no such session"))
	require.Contains(t, errw.String(), "Error:")
	require.Contains(t, errw.String(), "no such session")
	require.Empty(t, out.String())
}

func TestJSON_TwoSpaceIndent(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, io.Discard, FormatJSON)

	require.NoError(t, p.JSON(struct {
		ID    string   `json:"id"`
		Tasks []string `json:"tasks"`
	}{ID: "s1", Tasks: []string{"t1"}}))

	require.Equal(t, "{\n  \"id\": \"s1\",\n  \"tasks\": [\n    \"t1\"\n  ]\n}\n", out.String())
}

func TestResult_DispatchesOnFormat(t *testing.T) {
	var out bytes.Buffer
	doc := map[string]string{"id": "s1"}

	rendered := false
	p := NewPrinter(&out, io.Discard, FormatJSON)
	require.NoError(t, p.Result(doc, func(io.Writer) error {
		rendered = true
		return nil
	}))
	require.False(t, rendered)
	require.Contains(t, out.String(), "\"id\": \"s1\"")

	out.Reset()
	p = NewPrinter(&out, io.Discard, FormatTable)
	require.NoError(t, p.Result(doc, func(w io.Writer) error {
		rendered = true
		_, err := w.Write([]byte("table\n"))
		return err
	}))
	require.True(t, rendered)
	require.Equal(t, "table\n", out.String())
}
