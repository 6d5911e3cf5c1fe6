package files

import (
	"bytes"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ExtractPDFText pulls plain text out of a PDF payload. Extraction is
// best-effort: malformed or image-only documents yield an empty string,
// never an error. The pdf package panics on some malformed inputs, so the
// whole call is fenced with recover.
func (s *Service) ExtractPDFText(data []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("pdf extraction panicked", zap.Any("cause", r))
			text = ""
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Warn("pdf open failed", zap.Error(err))
		return ""
	}
	plain, err := r.GetPlainText()
	if err != nil {
		s.logger.Warn("pdf text extraction failed", zap.Error(err))
		return ""
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		s.logger.Warn("pdf read failed", zap.Error(err))
		return ""
	}
	return buf.String()
}
