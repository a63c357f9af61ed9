package repository

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

const (
	tableRuns       = "conversion_run"
	tableIterations = "run_iteration"
)

// Migrate creates the audit tables when they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	b := entsql.Dialect(s.dialect)
	stmts := []entsql.Querier{
		b.CreateTable(tableRuns).IfNotExists().
			Columns(
				b.Column("id").Type("TEXT").Attr("NOT NULL"),
				b.Column("source_path").Type("TEXT").Attr("NOT NULL"),
				b.Column("status").Type("TEXT").Attr("NOT NULL"),
				b.Column("iterations").Type("INTEGER").Attr("NOT NULL DEFAULT 0"),
				b.Column("confidence").Type("DOUBLE PRECISION"),
				b.Column("error_code").Type("TEXT"),
				b.Column("error_message").Type("TEXT"),
				b.Column("document").Type("TEXT"),
				b.Column("yaml_path").Type("TEXT"),
				b.Column("metrics").Type("TEXT"),
				b.Column("created_at").Type("TEXT").Attr("NOT NULL"),
				b.Column("finished_at").Type("TEXT"),
			).
			PrimaryKey("id"),
		b.CreateTable(tableIterations).IfNotExists().
			Columns(
				b.Column("run_id").Type("TEXT").Attr("NOT NULL"),
				b.Column("iteration").Type("INTEGER").Attr("NOT NULL"),
				b.Column("outcome").Type("TEXT").Attr("NOT NULL"),
				b.Column("feedback").Type("TEXT").Attr("NOT NULL"),
				b.Column("candidate").Type("TEXT"),
				b.Column("confidence").Type("DOUBLE PRECISION"),
				b.Column("prompt_bytes").Type("INTEGER").Attr("NOT NULL DEFAULT 0"),
				b.Column("elapsed_ms").Type("BIGINT").Attr("NOT NULL DEFAULT 0"),
				b.Column("created_at").Type("TEXT").Attr("NOT NULL"),
			).
			PrimaryKey("run_id", "iteration"),
		entsql.Expr("CREATE INDEX IF NOT EXISTS conversion_run_created_at ON " + tableRuns + " (created_at)"),
	}
	for _, st := range stmts {
		query, args := st.Query()
		if err := s.drv.Exec(ctx, query, args, nil); err != nil {
			s.logger.Error("db.migrate.failed", "error", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.logger.Info("db.migrate.ok", "dialect", s.dialect)
	return nil
}
