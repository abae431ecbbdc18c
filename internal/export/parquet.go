// Package export writes parquet snapshots of the imported game set after a
// completed full run and hands them to the snapshot storage backend.
package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	repository "github.com/rookline/chessync/internal/domain/repository"
	storage "github.com/rookline/chessync/internal/storage"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

const moduleExport = "export"

// gameRow is the parquet schema of one exported game.
type gameRow struct {
	SourceID     string `parquet:"name=source_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	WhiteID      string `parquet:"name=white_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	BlackID      string `parquet:"name=black_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	TournamentID string `parquet:"name=tournament_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Round        int32  `parquet:"name=round,type=INT32"`
	Result       string `parquet:"name=result,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	ECO          string `parquet:"name=eco,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	MovesPGN     string `parquet:"name=moves_pgn,type=BYTE_ARRAY,convertedtype=UTF8"`
	PlayedAt     int64  `parquet:"name=played_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// ParquetExporter writes the game snapshot as a single parquet object.
type ParquetExporter struct {
	entities repository.EntityStore
	store    storage.Store
}

// NewParquetExporter creates a ParquetExporter.
func NewParquetExporter(entities repository.EntityStore, store storage.Store) *ParquetExporter {
	return &ParquetExporter{entities: entities, store: store}
}

// Export writes the current game set to a parquet object named after the run
// and the export time, and returns the object name. An empty game set
// produces no object.
func (e *ParquetExporter) Export(ctx context.Context, runID string) (string, error) {
	games, err := e.entities.ListGames(ctx)
	if err != nil {
		return "", err
	}
	if len(games) == 0 {
		logger.Infof("No games stored; skipping snapshot export for run %s.", runID)
		return "", nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(gameRow), int64(len(games)))
	if err != nil {
		return "", exception.NewPermanentError(moduleExport, "failed to create parquet writer", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, g := range games {
		row := gameRow{
			SourceID:     g.SourceID,
			WhiteID:      g.WhiteSourceID,
			BlackID:      g.BlackSourceID,
			TournamentID: g.TournamentSourceID,
			Round:        int32(g.Round),
			Result:       g.Result,
			ECO:          g.ECO,
			MovesPGN:     g.MovesPGN,
			PlayedAt:     g.PlayedAt.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			return "", exception.NewPermanentError(moduleExport,
				fmt.Sprintf("failed to write game %s to parquet", g.SourceID), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return "", exception.NewPermanentError(moduleExport, "failed to finalize parquet file", err)
	}

	objectName := path.Join("games",
		fmt.Sprintf("dt=%s", time.Now().Format("2006-01-02")),
		fmt.Sprintf("games_%s_%s.parquet", time.Now().Format("20060102150405"), runID))
	if err := e.store.Upload(ctx, objectName, buf, "application/octet-stream"); err != nil {
		return "", exception.NewTransientError(moduleExport,
			fmt.Sprintf("failed to upload snapshot '%s'", objectName), err)
	}

	logger.Infof("Exported %d game(s) to snapshot '%s'.", len(games), objectName)
	return objectName, nil
}
