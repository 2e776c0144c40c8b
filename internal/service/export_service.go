package service

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
	"github.com/noah-isme/beacon-attendance/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type urlSigner interface {
	Generate(ownerID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (ownerID, relPath string, expiresAt time.Time, err error)
}

type sheetRenderer interface {
	Render(sheet export.Sheet) ([]byte, error)
}

// ExportConfig tunes archived sheet behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportFile is a rendered attendance sheet.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportResult describes an archived sheet and its signed download link.
type ExportResult struct {
	RelativePath string    `json:"-"`
	Token        string    `json:"token"`
	URL          string    `json:"url"`
	Format       string    `json:"format"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExportService renders session snapshots into attendance sheets.
type ExportService struct {
	storage fileStorage
	signer  urlSigner
	csv     sheetRenderer
	pdf     sheetRenderer
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService. Storage and signer are only
// needed for Archive and Open.
func NewExportService(storage fileStorage, signer urlSigner, cfg ExportConfig, logger *zap.Logger, csv, pdf sheetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{storage: storage, signer: signer, csv: csv, pdf: pdf, logger: logger, cfg: cfg}
}

// Render builds the attendance sheet for snap in the requested format.
func (s *ExportService) Render(snap models.SessionSnapshot, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	sheet := BuildSheet(snap)

	var (
		payload     []byte
		contentType string
		err         error
	)
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(sheet)
		contentType = "text/csv"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(sheet)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render attendance sheet")
	}
	return &ExportFile{Filename: s.buildFilename(snap, format), ContentType: contentType, Data: payload}, nil
}

// Archive renders snap, stores it and returns a signed download link.
func (s *ExportService) Archive(snap models.SessionSnapshot, format string) (*ExportResult, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "export archive is not configured")
	}
	file, err := s.Render(snap, format)
	if err != nil {
		return nil, err
	}
	relPath, err := s.storage.Save(file.Filename, file.Data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance sheet")
	}
	token, expiresAt, err := s.signer.Generate(snap.SessionID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Sugar().Infow("attendance sheet archived", "session_id", snap.SessionID, "path", relPath, "format", format)
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       strings.ToLower(format),
		ExpiresAt:    expiresAt,
	}, nil
}

// Open validates a download token and returns the archived file.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	if s.storage == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export archive is not configured")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	return file, relPath, nil
}

// Cleanup removes archived sheets older than ttl, or the configured TTL when
// ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// BuildSheet lays snap out as a roll-ordered attendance table.
func BuildSheet(snap models.SessionSnapshot) export.Sheet {
	students := make(map[string]models.Student, len(snap.Students))
	for _, st := range snap.Students {
		students[st.ID] = st
	}

	records := append([]models.AttendanceRecord(nil), snap.Records...)
	sort.SliceStable(records, func(i, j int) bool {
		return students[records[i].StudentID].RollNo < students[records[j].StudentID].RollNo
	})

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		st := students[rec.StudentID]
		batch := ""
		if st.Batch != nil {
			batch = fmt.Sprintf("%d", *st.Batch)
		}
		detected := ""
		if rec.DetectedAt != nil {
			detected = rec.DetectedAt.Format("15:04:05")
		}
		manual := "no"
		if rec.IsManual {
			manual = "yes"
		}
		name := st.Name
		if name == "" {
			name = rec.StudentID
		}
		rows = append(rows, []string{st.RollNo, name, batch, strings.ToUpper(string(rec.Status)), detected, manual})
	}

	counts := snap.Counts()
	batch := "All"
	if snap.Batch != models.BatchAll {
		batch = fmt.Sprintf("Batch %d", snap.Batch)
	}
	subject := snap.Class.SubjectCode
	if snap.Class.SubjectName != "" {
		subject = fmt.Sprintf("%s %s", snap.Class.SubjectCode, snap.Class.SubjectName)
	}
	return export.Sheet{
		Title: fmt.Sprintf("Attendance %s %s-%d%s %s", subject, snap.Class.Dept, snap.Class.Year, snap.Class.Section, models.DateKey(snap.Date)),
		Summary: []export.SummaryLine{
			{Label: "Session", Value: snap.SessionID},
			{Label: "Faculty", Value: snap.Class.FacultyID},
			{Label: "Batch", Value: batch},
			{Label: "Present", Value: fmt.Sprintf("%d", counts.Present)},
			{Label: "Absent", Value: fmt.Sprintf("%d", counts.Absent)},
			{Label: "OD", Value: fmt.Sprintf("%d", counts.OD)},
			{Label: "Leave", Value: fmt.Sprintf("%d", counts.Leave)},
			{Label: "Total", Value: fmt.Sprintf("%d", counts.Total)},
		},
		Headers: []string{"Roll No", "Name", "Batch", "Status", "Detected At", "Manual"},
		Rows:    rows,
	}
}

func (s *ExportService) buildFilename(snap models.SessionSnapshot, format string) string {
	return fmt.Sprintf("attendance_%s_%s_%s.%s",
		sanitizeFilename(snap.Class.SubjectCode),
		sanitizeFilename(snap.Class.Section),
		models.DateKey(snap.Date),
		format,
	)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
