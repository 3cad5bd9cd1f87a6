package repository

import (
	"github.com/go-viper/mapstructure/v2"

	"lovelink/internal/infrastructure/memstore"
	"lovelink/pkg/errors"
)

// decodeDoc maps a memstore document onto an entity using its firestore tags, so both
// drivers read the same field names.
func decodeDoc(doc memstore.Doc, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "firestore",
		Result:           out,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return errors.Internal("Failed to build document decoder", err)
	}
	if err := decoder.Decode(doc.Data); err != nil {
		return errors.Internal("Failed to parse document data", err)
	}
	return nil
}
