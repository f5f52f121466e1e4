package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"nexus-ai-engine/pkg/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for uploads that are neither .xlsx nor .csv.
var ErrUnsupportedFormat = errors.New("unsupported file format: upload .xlsx or .csv")

// column aliases, English and Japanese headers
var (
	dateColumns     = []string{"date", "order_date", "month", "日付", "年月"}
	orderColumns    = []string{"order_id", "order", "order_no", "注文ID", "注文番号", "伝票番号"}
	productColumns  = []string{"product_id", "product_code", "sku", "製品ID", "製品id", "製品コード", "商品ID", "商品id", "商品コード"}
	quantityColumns = []string{"quantity", "qty", "sales", "販売数", "数量"}
)

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006-01", "2006/01", "01-02-06", "1/2/06", "1/2/2006"}

// SalesImportService は販売実績・注文明細ファイル（xlsx/csv）を読み込み、
// 予測用の月次系列と併売テーブルに変換する。
type SalesImportService struct {
	log zerolog.Logger
}

// NewSalesImportService 新しいインポートサービスを作成
func NewSalesImportService(log zerolog.Logger) *SalesImportService {
	return &SalesImportService{log: log.With().Str("component", "sales_import").Logger()}
}

// ReadRows reads the first sheet of an .xlsx file or a whole .csv file.
func (s *SalesImportService) ReadRows(r io.Reader, fileName string) ([][]string, error) {
	var rows [][]string
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("open spreadsheet: %w", err)
		}
		defer f.Close()
		rows, err = f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("read sheet rows: %w", err)
		}
	case ".csv":
		var err error
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		rows, err = cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
	default:
		return nil, ErrUnsupportedFormat
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("file needs a header row and at least one data row")
	}
	s.log.Debug().Str("file", fileName).Int("rows", len(rows)-1).Msg("Read import file")
	return rows, nil
}

// ParseOrderLines extracts (order, product) pairs. Rows missing either cell are skipped.
func (s *SalesImportService) ParseOrderLines(rows [][]string) ([]models.OrderLine, error) {
	header := rows[0]
	orderIdx := findIndex(header, orderColumns...)
	productIdx := findIndex(header, productColumns...)
	if missing := missingColumns(map[string]int{"order_id": orderIdx, "product_id": productIdx}); missing != "" {
		return nil, fmt.Errorf("missing columns: %s (header: %v)", missing, header)
	}

	lines := make([]models.OrderLine, 0, len(rows)-1)
	skipped := 0
	for _, row := range rows[1:] {
		order, product := cell(row, orderIdx), cell(row, productIdx)
		if order == "" || product == "" {
			skipped++
			continue
		}
		lines = append(lines, models.OrderLine{OrderID: order, ProductID: product})
	}
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("Skipped incomplete order rows")
	}
	return lines, nil
}

// ParseSalesRecords extracts dated sales quantities. Unparseable rows are errors
// because a silently dropped month would shift the forecast.
func (s *SalesImportService) ParseSalesRecords(rows [][]string) ([]models.SalesRecord, error) {
	header := rows[0]
	dateIdx := findIndex(header, dateColumns...)
	productIdx := findIndex(header, productColumns...)
	qtyIdx := findIndex(header, quantityColumns...)
	if missing := missingColumns(map[string]int{"date": dateIdx, "product_id": productIdx, "quantity": qtyIdx}); missing != "" {
		return nil, fmt.Errorf("missing columns: %s (header: %v)", missing, header)
	}

	records := make([]models.SalesRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		product := cell(row, productIdx)
		if product == "" {
			continue
		}
		date, err := parseDate(cell(row, dateIdx))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		qty, err := strconv.ParseFloat(strings.ReplaceAll(cell(row, qtyIdx), ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid quantity %q", line, cell(row, qtyIdx))
		}
		records = append(records, models.SalesRecord{Date: date, ProductID: product, Quantity: qty})
	}
	return records, nil
}

// BuildCooccurrenceTable counts, for every pair of distinct products sharing an
// order, one co-purchase in each direction. It also returns how many orders
// contain each product.
func BuildCooccurrenceTable(lines []models.OrderLine) (models.CooccurrenceTable, map[string]int) {
	orders := make(map[string]map[string]bool)
	for _, l := range lines {
		if orders[l.OrderID] == nil {
			orders[l.OrderID] = make(map[string]bool)
		}
		orders[l.OrderID][l.ProductID] = true
	}

	counts := make(map[string]map[string]float64)
	popularity := make(map[string]int)
	for _, products := range orders {
		ids := make([]string, 0, len(products))
		for id := range products {
			ids = append(ids, id)
			popularity[id]++
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if counts[a] == nil {
					counts[a] = make(map[string]float64)
				}
				if counts[b] == nil {
					counts[b] = make(map[string]float64)
				}
				counts[a][b]++
				counts[b][a]++
			}
		}
	}

	table := make(models.CooccurrenceTable, len(counts))
	for anchor, related := range counts {
		for id, n := range related {
			table[anchor] = append(table[anchor], models.CooccurrencePair{AnchorID: anchor, RelatedID: id, Strength: n})
		}
	}
	return table.Normalize(), popularity
}

// MonthlySeries sums sales per product per calendar month, in month order.
func MonthlySeries(records []models.SalesRecord) map[string][]models.TimeSeriesPoint {
	sums := make(map[string]map[time.Time]float64)
	for _, r := range records {
		month := time.Date(r.Date.Year(), r.Date.Month(), 1, 0, 0, 0, 0, time.UTC)
		if sums[r.ProductID] == nil {
			sums[r.ProductID] = make(map[time.Time]float64)
		}
		sums[r.ProductID][month] += r.Quantity
	}

	out := make(map[string][]models.TimeSeriesPoint, len(sums))
	for product, months := range sums {
		series := make([]models.TimeSeriesPoint, 0, len(months))
		for m, v := range months {
			series = append(series, models.TimeSeriesPoint{Date: m, Value: v})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		out[product] = series
	}
	return out
}

// findIndex finds the index of the first candidate in a slice
func findIndex(slice []string, candidates ...string) int {
	for _, candidate := range candidates {
		for i, item := range slice {
			if strings.EqualFold(strings.TrimSpace(item), candidate) {
				return i
			}
		}
	}
	return -1
}

func missingColumns(indexes map[string]int) string {
	var missing []string
	for name, idx := range indexes {
		if idx == -1 {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return strings.Join(missing, ", ")
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}
