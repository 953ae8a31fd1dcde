package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/walletkun/Bookstagram/services/comments/internal/tree"
)

// Postgres persists the comment forest in two tables:
//
//	comment_trees(tree_id pk, attachment_kind, owner_id,
//	              unique(attachment_kind, owner_id))
//	comments(id pk, tree_id, parent_id, left_bound, right_bound, depth,
//	         attachment_kind, author_id, content, page_ref,
//	         like_count, flag_count, created_at, updated_at)
//
// Mutation scopes take a transaction-scoped advisory lock on the tree id,
// so writers to one tree serialize while other trees stay untouched.
// Readers run in repeatable-read transactions and never see a
// half-renumbered tree.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const nodeColumns = `id, tree_id, parent_id, left_bound, right_bound, depth,
	attachment_kind, author_id, content, page_ref, like_count, flag_count,
	created_at, updated_at`

func (s *Postgres) Mutate(ctx context.Context, treeID string, fn func(ctx context.Context, tx tree.TreeTx) error) error {
	txn, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgErr(err)
	}
	defer func() { _ = txn.Rollback(ctx) }()

	if _, err := txn.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, treeID); err != nil {
		return mapPgErr(err)
	}
	if err := fn(ctx, &pgTx{tx: txn}); err != nil {
		return mapPgErr(err)
	}
	return mapPgErr(txn.Commit(ctx))
}

func (s *Postgres) View(ctx context.Context, treeID string, fn func(ctx context.Context, tx tree.TreeTx) error) error {
	txn, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapPgErr(err)
	}
	defer func() { _ = txn.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: txn}); err != nil {
		return mapPgErr(err)
	}
	return mapPgErr(txn.Commit(ctx))
}

func (s *Postgres) ResolveTree(ctx context.Context, kind tree.Kind, ownerID string, mint bool) (string, error) {
	var treeID string
	if !mint {
		err := s.pool.QueryRow(ctx,
			`SELECT tree_id FROM comment_trees WHERE attachment_kind = $1 AND owner_id = $2`,
			string(kind), ownerID).Scan(&treeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", tree.ErrNotFound
		}
		return treeID, mapPgErr(err)
	}

	// Upsert so the RETURNING clause yields the winner of a concurrent mint.
	const q = `INSERT INTO comment_trees (tree_id, attachment_kind, owner_id)
	           VALUES ($1, $2, $3)
	           ON CONFLICT (attachment_kind, owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
	           RETURNING tree_id`
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), string(kind), ownerID).Scan(&treeID)
	return treeID, mapPgErr(err)
}

func (s *Postgres) TreeOf(ctx context.Context, nodeID string) (string, error) {
	var treeID string
	err := s.pool.QueryRow(ctx, `SELECT tree_id FROM comments WHERE id = $1`, nodeID).Scan(&treeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", tree.ErrNotFound
	}
	return treeID, mapPgErr(err)
}

func (s *Postgres) IncrementLike(ctx context.Context, nodeID string, delta int) error {
	return s.bump(ctx, `UPDATE comments SET like_count = like_count + $1 WHERE id = $2`, delta, nodeID)
}

func (s *Postgres) IncrementFlag(ctx context.Context, nodeID string, delta int) error {
	return s.bump(ctx, `UPDATE comments SET flag_count = flag_count + $1 WHERE id = $2`, delta, nodeID)
}

func (s *Postgres) bump(ctx context.Context, q string, delta int, nodeID string) error {
	tag, err := s.pool.Exec(ctx, q, delta, nodeID)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return tree.ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateContent(ctx context.Context, nodeID, authorID, content string) error {
	const q = `UPDATE comments SET content = $1, updated_at = now()
	           WHERE id = $2 AND author_id = $3`
	tag, err := s.pool.Exec(ctx, q, content, nodeID, authorID)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, nodeID).Scan(&exists); err != nil {
		return mapPgErr(err)
	}
	if exists {
		return tree.ErrForbidden
	}
	return tree.ErrNotFound
}

// pgTx adapts a pgx transaction to the TreeTx contract.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, id string) (tree.Node, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM comments WHERE id = $1`, id)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tree.Node{}, tree.ErrNotFound
	}
	return n, err
}

// Put inserts the full row; on conflict it rewrites only the tree shape
// columns. Content, counters and timestamps have their own write paths
// outside the advisory lock, so a bound rewrite replaying a node read
// earlier in the scope must not touch them.
func (t *pgTx) Put(ctx context.Context, n tree.Node) error {
	const q = `INSERT INTO comments (` + nodeColumns + `)
	           VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	           ON CONFLICT (id) DO UPDATE SET
	             parent_id = EXCLUDED.parent_id,
	             left_bound = EXCLUDED.left_bound,
	             right_bound = EXCLUDED.right_bound,
	             depth = EXCLUDED.depth`
	_, err := t.tx.Exec(ctx, q,
		n.ID, n.TreeID, n.ParentID, n.Left, n.Right, n.Depth,
		string(n.Kind), n.AuthorID, n.Content, n.PageRef,
		n.LikeCount, n.FlagCount, n.CreatedAt, n.UpdatedAt)
	return err
}

func (t *pgTx) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM comments WHERE id = ANY($1)`, ids)
	return err
}

func (t *pgTx) ScanTree(ctx context.Context, treeID string) ([]tree.Node, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+nodeColumns+` FROM comments WHERE tree_id = $1 ORDER BY left_bound`, treeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tree.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *pgTx) MaxRight(ctx context.Context, treeID string) (int, error) {
	var max int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(right_bound), 0) FROM comments WHERE tree_id = $1`, treeID).Scan(&max)
	return max, err
}

func (t *pgTx) ShiftLeft(ctx context.Context, treeID string, min, delta int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE comments SET left_bound = left_bound + $1 WHERE tree_id = $2 AND left_bound >= $3`,
		delta, treeID, min)
	return err
}

func (t *pgTx) ShiftRight(ctx context.Context, treeID string, min, delta int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE comments SET right_bound = right_bound + $1 WHERE tree_id = $2 AND right_bound >= $3`,
		delta, treeID, min)
	return err
}

func scanNode(row pgx.Row) (tree.Node, error) {
	var n tree.Node
	var kind string
	err := row.Scan(&n.ID, &n.TreeID, &n.ParentID, &n.Left, &n.Right, &n.Depth,
		&kind, &n.AuthorID, &n.Content, &n.PageRef,
		&n.LikeCount, &n.FlagCount, &n.CreatedAt, &n.UpdatedAt)
	n.Kind = tree.Kind(kind)
	return n, err
}

// mapPgErr translates serialization and deadlock failures into the
// engine's retryable conflict error.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return tree.ErrConflict
		}
	}
	return err
}
