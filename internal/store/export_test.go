package store

import "context"

func PgExecForTest(ctx context.Context, p *Postgres, sql string) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql)
	return tag.RowsAffected(), err
}
