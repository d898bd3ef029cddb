package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// FacturXFileName is the attachment name Factur-X readers look for
const FacturXFileName = "factur-x.xml"

var disableConfigDir sync.Once

func pdfConfig() *pdfmodel.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	return pdfmodel.NewDefaultConfiguration()
}

// EmbedXML attaches the CII document to a PDF as factur-x.xml.
// pdfcpu only attaches from disk, so the XML goes through a temp dir.
func EmbedXML(pdf, xml []byte) ([]byte, error) {
	return embedXML("", pdf, xml)
}

func embedXML(tmpDir string, pdf, xml []byte) ([]byte, error) {
	dir, err := os.MkdirTemp(tmpDir, "facturx-*")
	if err != nil {
		return nil, fmt.Errorf("embed xml: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, FacturXFileName)
	if err := os.WriteFile(file, xml, 0o600); err != nil {
		return nil, fmt.Errorf("embed xml: %w", err)
	}

	var out bytes.Buffer
	if err := api.AddAttachments(bytes.NewReader(pdf), &out, []string{file}, false, pdfConfig()); err != nil {
		return nil, fmt.Errorf("embed xml: %w", err)
	}
	return out.Bytes(), nil
}
