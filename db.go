package imgsum

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// ErrNotFound is returned when a stored image does not exist.
var ErrNotFound = errors.New("not found")

// DB stores the latest PageImages of every processed page for the indexing
// stage. It is never read to skip work.
type DB struct {
	mu sync.Mutex // serializes page replacement
	db *sql.DB

	filepath string
}

// StoredImage is a PageImage as persisted.
type StoredImage struct {
	Id      int
	PageID  string
	Ordinal int
	PageImage
	Describer   string
	ProcessedAt time.Time
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

func NewDB(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if fname == ":memory:" {
		// Every connection would otherwise get its own empty database
		sqldb.SetMaxOpenConns(1)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		return nil, err
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

// SavePageResult replaces the stored images of res.PageID with res.Images.
// Rows are inserted batchSize at a time. It returns the number of rows
// inserted.
func (db *DB) SavePageResult(ctx context.Context, res *PageResult, describer string, at time.Time, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size %d must be positive", batchSize)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	txn, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	if _, err := txn.ExecContext(ctx, "DELETE FROM page_images WHERE page_id=?", res.PageID); err != nil {
		return 0, err
	}

	const ncols = 8
	start := 0
	affected := 0
	for start < len(res.Images) {
		end := min(start+batchSize, len(res.Images))

		qsb := strings.Builder{}
		qsb.WriteString("INSERT INTO page_images (page_id, ordinal, title, url, base64_encoded, summary, describer, processed_at) VALUES")
		values := make([]any, 0, (end-start)*ncols)
		for idx, img := range res.Images[start:end] {
			qsb.WriteString(" (")
			for c := range ncols {
				if c > 0 {
					qsb.WriteByte(',')
				}
				qsb.WriteByte('$')
				qsb.WriteString(strconv.Itoa(idx*ncols + c + 1))
			}
			qsb.WriteString("),")

			ordinal, err := ordinalFromTitle(res.PageID, img.Title)
			if err != nil {
				return 0, err
			}
			var summary sql.NullString
			if img.Summary != nil {
				summary = sql.NullString{String: *img.Summary, Valid: true}
			}
			values = append(values, res.PageID, ordinal, img.Title, img.URL, img.Base64Encoded, summary, describer, at)
		}
		queryString := qsb.String()

		// Remove trailing comma
		queryString = queryString[0 : len(queryString)-1]

		r, err := txn.ExecContext(ctx, queryString, values...)
		if err != nil {
			return 0, err
		}

		ra, err := r.RowsAffected()
		if err != nil {
			return 0, err
		}
		affected += int(ra)
		start = end
	}

	return affected, txn.Commit()
}

func ordinalFromTitle(pageID, title string) (int, error) {
	s, ok := strings.CutPrefix(title, pageID+"_image_")
	if !ok {
		return 0, fmt.Errorf("image title %q does not belong to page %s", title, pageID)
	}
	return strconv.Atoi(s)
}

const imageColumns = `id, page_id, ordinal, title, url, base64_encoded, summary, describer, processed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (*StoredImage, error) {
	img := &StoredImage{}

	var (
		summary   sql.NullString
		describer sql.NullString
	)
	err := row.Scan(
		&img.Id,
		&img.PageID,
		&img.Ordinal,
		&img.Title,
		&img.URL,
		&img.Base64Encoded,
		&summary,
		&describer,
		&img.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if summary.Valid {
		img.Summary = &summary.String
	}
	img.Describer = describer.String

	return img, nil
}

// PageImages returns the stored images of a page in ordinal order.
func (db *DB) PageImages(ctx context.Context, pageID string) ([]*StoredImage, error) {
	rows, err := db.db.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM page_images WHERE page_id=? ORDER BY ordinal", pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*StoredImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return images, nil
}

// Image looks up a stored image by its title.
func (db *DB) Image(ctx context.Context, title string) (*StoredImage, error) {
	row := db.db.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM page_images WHERE title=?", title)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// CountImages returns the number of stored images.
func (db *DB) CountImages(ctx context.Context) (int, error) {
	row := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_images`)
	if row.Err() != nil {
		return 0, row.Err()
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}
