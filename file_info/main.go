package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	cm "channeldl/common"
	dm "channeldl/db"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "c", "./conf.ini", "config file")
}

func main() {
	flag.Parse()
	config := cm.NewConfig()
	if err := cm.LoadConfig(config, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	index, err := dm.Open(config.DB.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open index %s: %v\n", config.DB.DBPath, err)
		os.Exit(1)
	}
	defer index.Close()

	fmt.Println("########################## file index lookup ##########################")
	fmt.Println("ctrl + c to quit")
	Lookup(context.Background(), index, os.Stdin, os.Stdout)
}

// Lookup answers queries read line by line from in until EOF. A number is
// taken as a message id, anything else as a downloaded file name.
func Lookup(ctx context.Context, index *dm.Index, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "file name (e.g. 20240101_100000_msg42.mp4) or message id>>>")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			fmt.Fprintln(out, "empty input!")
			continue
		}

		var files []*dm.File
		var err error
		if mid, perr := strconv.Atoi(query); perr == nil {
			files, err = index.FindByMessage(ctx, mid)
		} else {
			files, err = index.FindByName(ctx, query)
		}
		if err != nil {
			fmt.Fprintf(out, "lookup [%s] failed: %s\n", query, err.Error())
			continue
		}
		if len(files) == 0 {
			fmt.Fprintf(out, "no result for [%s]\n", query)
			continue
		}
		for i, fi := range files {
			size := float64(fi.Fsize) / 1024
			fmt.Fprintf(out, `##########################
result %d for [%s]:
channel id: %d
message id: %d
kind: %s
file name: %s
path: %s
size: %.1fKB
posted: %s
text: %s
`, i+1, query, fi.Gid, fi.Mid, fi.Kind, fi.Dname, fi.Fpath, size, fi.Ftime, fi.Msg)
		}
	}
}
