package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.0 KB", formatSize(1024))
	assert.Equal(t, "1.5 MB", formatSize(1536*1024))
	assert.Equal(t, "2.0 GB", formatSize(2*1024*1024*1024))
	assert.Equal(t, "1.0 TB", formatSize(1024*1024*1024*1024))
}

func TestFormatTime(t *testing.T) {
	t.Parallel()

	now := time.Now()

	sameYear := time.Date(now.Year(), 3, 5, 14, 30, 0, 0, time.Local)
	assert.Equal(t, "Mar  5 14:30", formatTime(sameYear))

	oldYear := time.Date(2019, 3, 5, 14, 30, 0, 0, time.Local)
	assert.Equal(t, "Mar  5  2019", formatTime(oldYear))
}

func TestPrintTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"a.txt", "1.0 KB"},
		{"longer-name.txt", "12 B"},
	})

	want := "NAME             SIZE\n" +
		"a.txt            1.0 KB\n" +
		"longer-name.txt  12 B\n"
	assert.Equal(t, want, buf.String())
}
