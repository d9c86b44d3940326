package script

import (
	"strings"

	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
)

// FormatCommand renders a job as a script command that parses back to the
// same job. Unlike Job.Description it spells out every option.
func FormatCommand(j *pump.Job) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(j.Operation)))
	if j.Operation == pump.OpSQL {
		b.WriteString(" {" + j.SQL + "}")
		return b.String()
	}
	b.WriteString(" " + j.Table)
	if j.Target != "" && j.Target != j.Table {
		b.WriteString(" into " + j.Target)
	}

	start, end := j.Interval()
	switch j.Operation {
	case pump.OpLoad:
		if j.DisplayValues {
			b.WriteString(" dv")
		}
		if j.Truncate {
			b.WriteString(" truncate")
		}
		b.WriteString(" " + j.Method.Keyword())
		if !j.UseCreatedDate {
			b.WriteString(" updated")
		}
		if start != nil {
			b.WriteString(" from " + source.FormatTime(*start))
		}
		if end != nil {
			b.WriteString(" to " + source.FormatTime(*end))
		}
		if j.PartitionField != "" {
			b.WriteString(" partition " + j.PartitionField + " value {" + j.PartitionValue + "}")
		}
		if j.PartitionBy != "" {
			b.WriteString(" partition-by " + j.PartitionBy)
		}
		writeWhere(&b, j)
		if j.SortField != "" && j.SortField != defaultLoadSort(j) {
			b.WriteString(" order-by " + j.SortField)
		}
	case pump.OpRefresh:
		if j.DisplayValues {
			b.WriteString(" dv")
		}
		if end != nil {
			b.WriteString(" since " + source.FormatTime(*end))
		}
		writeWhere(&b, j)
	case pump.OpPrune:
		if end != nil {
			b.WriteString(" since " + source.FormatTime(*end))
		}
	case pump.OpGenerate:
		if j.OutputFile != "" {
			b.WriteString(" file " + j.OutputFile)
		}
	}
	return b.String()
}

func writeWhere(b *strings.Builder, j *pump.Job) {
	if !j.BaseFilter.IsEmpty() {
		b.WriteString(" where {" + j.BaseFilter.String() + "}")
	}
}

func defaultLoadSort(j *pump.Job) string {
	if j.UseCreatedDate {
		return source.FieldCreatedOn
	}
	return source.FieldUpdatedOn
}
