package complaints

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/socrata"
)

// SoQL floating timestamp
const watermarkLayout = "2006-01-02T15:04:05.000"

// SocrataSource reads the 311 dataset.
type SocrataSource struct {
	Client  *socrata.Client
	Dataset string
}

func (s SocrataSource) FetchPage(ctx context.Context, since time.Time, offset, limit int) ([]json.RawMessage, error) {
	return s.Client.Query(ctx, s.Dataset, PageQuery(since, offset, limit))
}

// PageQuery builds the SoQL for one page. The watermark is inclusive so records sharing the
// stored maximum timestamp are not lost; the insert ignores the ones already stored.
// unique_key breaks creation-time ties so that OFFSET paging is stable.
func PageQuery(since time.Time, offset, limit int) string {
	return fmt.Sprintf(
		"SELECT unique_key, created_date, closed_date, agency, complaint_type, descriptor, latitude, longitude "+
			"WHERE created_date >= %s ORDER BY created_date, unique_key LIMIT %d OFFSET %d",
		socrata.Quote(since.UTC().Format(watermarkLayout)), limit, offset)
}
