package services

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetStudents   = "Students"
	sheetStatistics = "Statistics"
)

// ExportExamOverview renders the overview as an xlsx workbook
func (s *overviewService) ExportExamOverview(ctx context.Context, examID uint, userID string) ([]byte, string, error) {
	overview, err := s.GetExamOverview(ctx, examID, userID)
	if err != nil {
		return nil, "", err
	}

	data, err := RenderOverviewWorkbook(overview)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Exam overview exported", "exam_id", examID, "students", len(overview.Students))
	return data, fmt.Sprintf("exam-%d-overview.xlsx", examID), nil
}

func RenderOverviewWorkbook(overview *ExamOverview) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetStudents); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeStudentsSheet(f, overview); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(sheetStatistics); err != nil {
		return nil, fmt.Errorf("failed to create statistics sheet: %w", err)
	}
	if err := writeStatisticsSheet(f, overview); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeStudentsSheet(f *excelize.File, overview *ExamOverview) error {
	rows := [][]interface{}{
		{"Student", "Session", "State", "Score", "Graded questions", "Answered questions", "Answer length", "Duration (min)", "Sentiment"},
	}
	for _, st := range overview.Students {
		score := interface{}("")
		if st.Score != nil {
			score = *st.Score
		}
		sentiment := ""
		if st.Sentiment != nil {
			sentiment = string(*st.Sentiment)
		}
		rows = append(rows, []interface{}{
			st.StudentID, st.SessionID, string(st.State), score,
			st.GradedQuestions, st.QuestionCount, st.AnswerLength, st.DurationMinutes, sentiment,
		})
	}
	return writeRows(f, sheetStudents, rows)
}

func writeStatisticsSheet(f *excelize.File, overview *ExamOverview) error {
	stats := overview.Statistics
	rows := [][]interface{}{
		{"Exam", overview.Title},
		{"Students", stats.Students},
		{"Submitted", stats.Submitted},
		{"Graded", stats.Graded},
		{},
		{"Metric", "Average", "Std dev"},
		{"Score", stats.Score.Average, stats.Score.StdDev},
		{"Answered questions", stats.QuestionCount.Average, stats.QuestionCount.StdDev},
		{"Answer length", stats.AnswerLength.Average, stats.AnswerLength.StdDev},
		{"Duration (min)", stats.SessionMinutes.Average, stats.SessionMinutes.StdDev},
	}

	for _, metric := range []struct {
		name  string
		stats MetricStats
	}{
		{"Score distribution", stats.Score},
		{"Answered questions distribution", stats.QuestionCount},
		{"Answer length distribution", stats.AnswerLength},
		{"Duration distribution", stats.SessionMinutes},
	} {
		rows = append(rows, []interface{}{}, []interface{}{metric.name, "Count"})
		for _, b := range metric.stats.Distribution {
			rows = append(rows, []interface{}{b.Label, b.Count})
		}
	}

	rows = append(rows, []interface{}{}, []interface{}{"Stage", "Average", "Count"})
	for _, st := range overview.StageAnalysis {
		rows = append(rows, []interface{}{string(st.Stage), st.AverageScore, st.Count})
	}

	rows = append(rows, []interface{}{}, []interface{}{"Rubric area", "Average", "Count"})
	for _, r := range overview.RubricAnalysis {
		rows = append(rows, []interface{}{r.EvaluationArea, r.AverageScore, r.Count})
	}

	return writeRows(f, sheetStatistics, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
