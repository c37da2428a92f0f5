package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"p2precon/internal/model"
	"p2precon/internal/orders"
)

// ImportError is returned when a non-empty file yields no valid orders.
type ImportError struct {
	Reason string
	Lines  []string
}

func (e *ImportError) Error() string {
	if len(e.Lines) == 0 {
		return "csv import: " + e.Reason
	}
	return fmt.Sprintf("csv import: %s (%s)", e.Reason, strings.Join(e.Lines, "; "))
}

// columns maps export header names to canonical fields.
var columns = map[string]string{
	"Order ID":              "order_id",
	"Side":                  "side",
	"Status":                "status",
	"Token ID":              "token_id",
	"Price":                 "price",
	"Notify Token Quantity": "notify_token_quantity",
	"Target Nickname":       "target_nickname",
	"Create Date":           "create_date",
	"Seller Real Name":      "seller_real_name",
	"Buyer Real Name":       "buyer_real_name",
	"Amount":                "amount",
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// Result is the outcome of a parse: the orders plus per-line problems that did
// not stop the import.
type Result struct {
	Orders  []model.Order
	Skipped int
	Errors  []string
}

// Parse reads a header row followed by one order per non-blank record. Quoted
// fields may contain commas.
func Parse(r io.Reader, now time.Time) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return Result{}, &ImportError{Reason: "file is empty"}
	}

	cr := csv.NewReader(bufio.NewReader(bytes.NewReader(data)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Result{}, &ImportError{Reason: fmt.Sprintf("read header: %v", err)}
	}
	fields := make([]string, len(header))
	known := 0
	for i, h := range header {
		if f, ok := columns[strings.TrimSpace(h)]; ok {
			fields[i] = f
			known++
		}
	}
	if known == 0 {
		return Result{}, &ImportError{Reason: "no recognized columns in header"}
	}

	res := Result{}
	seen := make(map[string]int)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.Skipped++
			continue
		}
		line, _ := cr.FieldPos(0)
		if blank(rec) {
			continue
		}

		o, warnings, err := toOrder(fields, rec, now)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			res.Skipped++
			continue
		}
		for _, w := range warnings {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %s", line, w))
		}

		if i, dup := seen[o.ID]; dup {
			res.Orders[i] = o
			res.Skipped++
			continue
		}
		seen[o.ID] = len(res.Orders)
		res.Orders = append(res.Orders, o)
	}

	if len(res.Orders) == 0 {
		return res, &ImportError{Reason: "no valid orders found", Lines: res.Errors}
	}
	return res, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func toOrder(fields, rec []string, now time.Time) (model.Order, []string, error) {
	values := make(map[string]string, len(fields))
	for i, f := range fields {
		if f == "" || i >= len(rec) {
			continue
		}
		values[f] = strings.TrimSpace(rec[i])
	}

	id := values["order_id"]
	if id == "" {
		return model.Order{}, nil, errors.New("missing Order ID")
	}
	side, ok := model.ParseSide(values["side"])
	if !ok {
		return model.Order{}, nil, fmt.Errorf("invalid Side %q", values["side"])
	}

	var warnings []string
	for _, f := range []string{"price", "amount", "notify_token_quantity"} {
		if v := values[f]; v != "" {
			if _, ok := orders.ParseNumber(v); !ok {
				warnings = append(warnings, fmt.Sprintf("%s %q is not numeric", f, v))
			}
		}
	}

	created, ok := parseDate(values["create_date"], now)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("create_date %q kept as text", values["create_date"]))
	}

	return model.Order{
		ID:                  id,
		OrderID:             id,
		Side:                side,
		Status:              values["status"],
		TokenID:             values["token_id"],
		Price:               values["price"],
		NotifyTokenQuantity: values["notify_token_quantity"],
		TargetNickname:      values["target_nickname"],
		CreateDate:          created,
		SellerRealName:      values["seller_real_name"],
		BuyerRealName:       values["buyer_real_name"],
		Amount:              values["amount"],
	}, warnings, nil
}

// parseDate returns ISO-8601 UTC for recognized layouts, now for an empty
// value, and the raw text with ok=false otherwise.
func parseDate(v string, now time.Time) (string, bool) {
	if v == "" {
		return model.FormatTime(now), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return model.FormatTime(t), true
		}
	}
	return v, false
}
