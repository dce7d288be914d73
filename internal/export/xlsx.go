// Package export renders configuration snapshots into spreadsheet workbooks
// for operators who want a capture outside the API.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/snapshot"
)

// SnapshotWorkbook writes an xlsx workbook with one sheet per entity type to w.
func SnapshotWorkbook(snap domain.ConfigSnapshot, w io.Writer) error {
	decoded, err := snapshot.Decode(snap)
	if err != nil {
		return err
	}

	file := excelize.NewFile()
	defer file.Close()

	first := true
	for _, t := range domain.EntityTypes {
		sheet := string(t)
		if first {
			// excelize seeds a default sheet; rename it instead of leaving it empty.
			if err := file.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
			first = false
		} else {
			if _, err := file.NewSheet(sheet); err != nil {
				return fmt.Errorf("failed to add sheet %s: %w", sheet, err)
			}
		}
		if err := writeSheet(file, sheet, decoded[t]); err != nil {
			return err
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(file *excelize.File, sheet string, entities []domain.Entity) error {
	header := []any{"id", "summary", "is_active", "created_at", "updated_at", "state"}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header on %s: %w", sheet, err)
	}

	for i, e := range entities {
		state, err := domain.EncodeEntity(e)
		if err != nil {
			return err
		}
		row := []any{
			e.EntityID().String(),
			summarize(e),
			e.Active(),
			e.Created().Format("2006-01-02 15:04:05"),
			e.Updated().Format("2006-01-02 15:04:05"),
			string(state),
		}
		cell := "A" + strconv.Itoa(i+2)
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row on %s: %w", sheet, err)
		}
	}
	return nil
}

func summarize(e domain.Entity) string {
	switch v := e.(type) {
	case *domain.BackendService:
		return v.Name + " -> " + v.BaseURL
	case *domain.ApiRoute:
		return string(v.Method) + " " + v.PathPattern
	case *domain.RateLimitPolicy:
		return fmt.Sprintf("%s: %d req / %ds", v.Name, v.MaxRequests, v.WindowSeconds)
	case *domain.WhitelistRule:
		return v.RuleName + " (" + string(v.RuleType) + ")"
	case *domain.LoadBalancerConfig:
		return string(v.Algorithm) + " for " + v.BackendServiceID.String()
	}
	return ""
}
