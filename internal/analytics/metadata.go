package analytics

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func marshalMetadata(m map[string]any) (datatypes.JSON, error) {
	if len(m) == 0 {
		return datatypes.JSON("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
