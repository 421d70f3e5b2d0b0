package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"
)

const leaderboardSheet = "Leaderboard"

var leaderboardHeaders = []string{"Rank", "Student", "Student ID", "Points", "Percentage", "Time (s)", "Percentile"}

type exportService struct {
	results ResultService
	logger  *slog.Logger
}

func NewExportService(results ResultService, logger *slog.Logger) ExportService {
	return &exportService{
		results: results,
		logger:  logger,
	}
}

func (s *exportService) ExportLeaderboard(ctx context.Context, assessmentID uint) ([]byte, string, error) {
	board, err := s.results.GetLeaderboard(ctx, assessmentID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("Failed to close workbook", "error", err)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), leaderboardSheet); err != nil {
		return nil, "", fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := writeLeaderboardHeader(f); err != nil {
		return nil, "", err
	}

	for i, entry := range board.Entries {
		row := []interface{}{
			entry.Rank,
			entry.StudentName,
			entry.StudentID,
			entry.Points,
			entry.Percentage,
			entry.TimeConsumed,
			entry.Percentile,
		}
		if err := setRow(f, i+2, row); err != nil {
			return nil, "", err
		}
	}

	if err := f.SetColWidth(leaderboardSheet, "B", "C", 28); err != nil {
		return nil, "", fmt.Errorf("failed to size columns: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.Info("Leaderboard exported", "assessment_id", assessmentID, "entries", len(board.Entries))

	filename := fmt.Sprintf("leaderboard_assessment_%d.xlsx", assessmentID)
	return buf.Bytes(), filename, nil
}

func writeLeaderboardHeader(f *excelize.File) error {
	header := make([]interface{}, len(leaderboardHeaders))
	for i, h := range leaderboardHeaders {
		header[i] = h
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	last, err := excelize.CoordinatesToCellName(len(leaderboardHeaders), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(leaderboardSheet, "A1", last, style)
}

func setRow(f *excelize.File, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(leaderboardSheet, cell, v); err != nil {
			return fmt.Errorf("failed to write cell %s: %w", cell, err)
		}
	}
	return nil
}
