package test

import (
	"errors"
	"io"
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"quiver-sql-go/operators/aggr"
	"quiver-sql-go/operators/filter"
	"quiver-sql-go/operators/project"
	"quiver-sql-go/operators/window"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
)

func drain(t *testing.T, op operators.Operator) [][]any {
	t.Helper()
	var rows [][]any
	for {
		batch, err := op.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows
			}
			t.Fatalf("unexpected error draining pipeline: %v", err)
		}
		for r := 0; r < int(batch.RowCount); r++ {
			row := make([]any, len(batch.Columns))
			for c, col := range batch.Columns {
				row[c] = operators.ValueAt(col, r)
			}
			rows = append(rows, row)
		}
	}
}

// csv -> filter -> window -> limit, the whole pipeline end to end
func TestCSVFilterWindowLimit(t *testing.T) {
	csvData := strings.Join([]string{
		"region,amount",
		"east,100",
		"west,20",
		"east,300",
		"west,40",
		"east,200",
		"west,10",
	}, "\n")

	src, err := project.NewProjectCSVLeaf(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}

	// WHERE amount > 15
	pred := Expr.NewBinaryExpr(
		Expr.NewColumnResolve("amount"),
		Expr.GreaterThan,
		Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, 15))
	filtered, err := filter.NewFilterExec(src, pred)
	if err != nil {
		t.Fatal(err)
	}

	// row_number() OVER (PARTITION BY region ORDER BY amount DESC)
	wexpr := window.NewWindowExpr(window.RowNumber).
		PartitionBy(Expr.NewColumnResolve("region")).
		OrderBy(window.OrderKey{Expr: Expr.NewColumnResolve("amount"), Ascending: false})
	windowed, err := window.NewWindowExec(filtered, []*window.BoundWindowExpr{wexpr})
	if err != nil {
		t.Fatal(err)
	}

	limited, err := filter.NewLimitExec(windowed, 4)
	if err != nil {
		t.Fatal(err)
	}

	rows := drain(t, limited)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows after the limit, got %d", len(rows))
	}

	// east partition first (asc partition order), amounts descending inside it
	wantRegion := []any{"east", "east", "east", "west"}
	wantAmount := []any{int64(300), int64(200), int64(100), int64(40)}
	wantRn := []any{int64(1), int64(2), int64(3), int64(1)}
	for i, row := range rows {
		if row[0] != wantRegion[i] || row[1] != wantAmount[i] || row[2] != wantRn[i] {
			t.Fatalf("row %d: got %v, want (%v %v %v)", i, row, wantRegion[i], wantAmount[i], wantRn[i])
		}
	}
}

// running aggregate next to a group by over the same data
func TestWindowAgainstGroupBy(t *testing.T) {
	mkSrc := func() *project.InMemorySource {
		src, err := project.NewInMemoryProjectExec(
			[]string{"dept", "salary"},
			[]any{
				[]string{"eng", "sales", "eng", "sales"},
				[]int{100, 50, 200, 70},
			})
		if err != nil {
			t.Fatal(err)
		}
		return src
	}

	// sum(salary) OVER (PARTITION BY dept) per row
	desc, err := aggr.DescriptorFor(aggr.Sum)
	if err != nil {
		t.Fatal(err)
	}
	wexpr := window.NewWindowExpr(window.Aggregate, Expr.NewColumnResolve("salary")).
		PartitionBy(Expr.NewColumnResolve("dept"))
	wexpr.Aggregate = desc
	wexpr.End = window.UnboundedFollowing // whole partition, not just up to the current row
	windowed, err := window.NewWindowExec(mkSrc(), []*window.BoundWindowExpr{wexpr})
	if err != nil {
		t.Fatal(err)
	}
	windowRows := drain(t, windowed)

	// the same totals through the group by operator
	grouped, err := aggr.NewGroupByExec(mkSrc(),
		[]aggr.AggregateFunctions{aggr.NewAggregateFunctions(aggr.Sum, Expr.NewColumnResolve("salary"))},
		[]Expr.Expression{Expr.NewColumnResolve("dept")})
	if err != nil {
		t.Fatal(err)
	}
	groupRows := drain(t, grouped)

	totals := map[string]float64{}
	for _, row := range groupRows {
		totals[row[0].(string)] = row[1].(float64)
	}
	for i, row := range windowRows {
		dept := row[0].(string)
		if row[2].(float64) != totals[dept] {
			t.Fatalf("row %d: window total %v disagrees with group by total %v for %s",
				i, row[2], totals[dept], dept)
		}
	}
}
