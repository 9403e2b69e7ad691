package domain_test

import (
	"testing"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestOutput_PlainText(t *testing.T) {
	tests := []struct {
		name string
		out  domain.Output
		want string
	}{
		{"stream", domain.NewStreamOutput(domain.Stdout, "hi\n"), "hi\n"},
		{"error", domain.NewErrorOutput("ValueError", "bad", nil), "ValueError: bad"},
		{"error without message", domain.NewErrorOutput("KeyboardInterrupt", "", nil), "KeyboardInterrupt"},
		{"lines", domain.Output{Type: domain.OutputExecuteResult, Data: domain.MimeBundle{"text/plain": []any{"a\n", "b"}}}, "a\nb"},
		{"rich only", domain.Output{Type: domain.OutputDisplayData, Data: domain.MimeBundle{"image/png": "...", "text/html": "<b>"}}, "<image/png, text/html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.out.PlainText())
		})
	}
}
