package compiler

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFTool validates and concatenates PDF documents.
type PDFTool interface {
	Validate(doc []byte) error
	Merge(docs [][]byte, w io.Writer) error
}

type PDFCPU struct {
	conf *model.Configuration
}

func NewPDFCPU() *PDFCPU {
	// keep pdfcpu from creating a config dir under $HOME
	model.ConfigPath = "disable"

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &PDFCPU{conf: conf}
}

func (p *PDFCPU) Validate(doc []byte) error {
	if len(doc) == 0 {
		return fmt.Errorf("empty document")
	}

	if err := api.Validate(bytes.NewReader(doc), p.conf); err != nil {
		return fmt.Errorf("invalid pdf: %w", err)
	}

	return nil
}

func (p *PDFCPU) Merge(docs [][]byte, w io.Writer) error {
	if len(docs) == 0 {
		return fmt.Errorf("nothing to merge")
	}

	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d)
	}

	if err := api.MergeRaw(readers, w, false, p.conf); err != nil {
		return fmt.Errorf("failed to merge pdfs: %w", err)
	}

	return nil
}
