package service

import (
	"context"
	"time"

	sqlitestore "coinarius-analytics/internal/store/sqlite"
)

func sleepBriefly() { time.Sleep(10 * time.Millisecond) }

func openCount(path string) (int, error) {
	st, err := sqlitestore.Open(sqlitestore.Config{Path: path})
	if err != nil {
		return 0, err
	}
	defer st.Close()
	return st.Count(context.Background())
}
