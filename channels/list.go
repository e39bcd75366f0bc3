package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	cm "channeldl/common"
)

func PrintChannels(w io.Writer, channels []*cm.ChannelInfo) {
	rule := strings.Repeat("=", 70)
	fmt.Fprintf(w, "\n%s\nYOUR TELEGRAM CHANNELS\n%s\n\n", rule, rule)
	if len(channels) == 0 {
		fmt.Fprintln(w, "No channels found. Make sure you've joined some channels!")
		return
	}

	fmt.Fprintf(w, "Found %d channels:\n\n", len(channels))
	for i, ch := range channels {
		fmt.Fprintf(w, "%d. %s\n", i+1, ch.Title)
		fmt.Fprintf(w, "   ID: %d\n", ch.ID)
		if ch.IsPrivate() {
			fmt.Fprintln(w, "   Username: No username (Private)")
			fmt.Fprintln(w, "   Type: Private Channel")
		} else {
			fmt.Fprintf(w, "   Username: @%s\n", ch.Name)
			fmt.Fprintln(w, "   Type: Public Channel")
		}
		fmt.Fprintf(w, "   Members: %s\n", memberCount(ch))
		fmt.Fprintf(w, "   %s\n\n", strings.Repeat("-", 66))
	}

	fmt.Fprintln(w, "To use a channel in the downloader:")
	fmt.Fprintln(w, "   - public channels: channel = @username or the ID")
	fmt.Fprintln(w, "   - private channels: channel = the ID")
	fmt.Fprintln(w, "   Both -1001234567890 and 1234567890 are accepted.")
}

func memberCount(ch *cm.ChannelInfo) string {
	if !ch.HasCount {
		return "Unknown"
	}
	return strconv.Itoa(ch.Count)
}

// ExportCSV writes ID,Name,Title,Count rows to fpath.
func ExportCSV(fpath string, channels []*cm.ChannelInfo) error {
	ff, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer ff.Close()

	cv := csv.NewWriter(ff)
	cv.UseCRLF = true
	cv.Write([]string{"ID", "Name", "Title", "Count"})
	for _, ch := range channels {
		cv.Write([]string{strconv.FormatInt(ch.ID, 10), ch.Name, ch.Title, memberCount(ch)})
	}
	cv.Flush()
	if err := cv.Error(); err != nil {
		return err
	}
	return ff.Close()
}
