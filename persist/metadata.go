package persist

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"depthcapture/device"
)

// WriteMetadata writes the stream kind followed by one "attribute,value" row per
// supported metadata attribute.
func WriteMetadata(out io.Writer, kind device.Kind, attrs []device.Attribute) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"stream", string(kind)}); err != nil {
		return err
	}
	if err := w.Write([]string{"Metadata Attribute", "Value"}); err != nil {
		return err
	}
	for _, a := range attrs {
		if err := w.Write([]string{a.Name, a.Value}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteMetadataFile writes the metadata CSV of one stream to path.
func WriteMetadataFile(path string, kind device.Kind, attrs []device.Attribute) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "writing metadata to %s", path)
	}
	defer func() { err = multierr.Combine(err, f.Close()) }()
	return WriteMetadata(f, kind, attrs)
}
