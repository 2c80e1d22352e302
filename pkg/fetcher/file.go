package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// S3Config - доступ к S3-совместимому хранилищу
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // MinIO и т.п., включает path-style адресацию
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// File читает CSV и XLSX из локальных путей или s3://bucket/key.
// Путь интерфейса может содержать {name}, заменяемые параметрами вызова.
type File struct {
	paths     map[string]string
	sheet     string
	delimiter rune
	s3cfg     S3Config
	logger    zerolog.Logger
	now       func() time.Time

	s3once   sync.Once
	s3client *s3.Client
	s3err    error
}

// NewFile создает файловый источник
func NewFile(paths map[string]string, logger zerolog.Logger) *File {
	return &File{paths: paths, delimiter: ',', logger: logger, now: time.Now}
}

// newFileFromParams:
//
//	params:
//	  files:
//	    prices: s3://market/prices/{day}.csv
//	    rates: ./data/rates.xlsx
//	  sheet: Sheet1
//	  delimiter: ";"
//	  s3: {region: eu-central-1, endpoint: http://minio:9000}
func newFileFromParams(_ context.Context, params map[string]any, logger zerolog.Logger) (Fetcher, error) {
	raw, ok := params["files"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("file fetcher requires 'files' mapping")
	}
	paths := make(map[string]string, len(raw))
	for iface, p := range raw {
		s, ok := p.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("path for interface %s must be a non-empty string", iface)
		}
		paths[iface] = s
	}
	f := NewFile(paths, logger)
	f.sheet, _ = params["sheet"].(string)
	if d, ok := params["delimiter"].(string); ok && d != "" {
		f.delimiter = []rune(d)[0]
	}
	if s3p, ok := params["s3"].(map[string]any); ok {
		f.s3cfg.Region, _ = s3p["region"].(string)
		f.s3cfg.Endpoint, _ = s3p["endpoint"].(string)
		f.s3cfg.AccessKey, _ = s3p["access_key"].(string)
		f.s3cfg.SecretKey, _ = s3p["secret_key"].(string)
	}
	return f, nil
}

func (f *File) Name() string { return "file" }

func (f *File) Interfaces() []string { return sortedKeys(f.paths) }

// Fetch читает файл интерфейса
func (f *File) Fetch(ctx context.Context, iface string, params map[string]any) (*Result, error) {
	tmpl, ok := f.paths[iface]
	if !ok {
		return nil, unknownInterface("fetcher.file", iface, f.Interfaces())
	}
	path := expandPath(tmpl, params)

	content, err := f.read(ctx, path)
	if err != nil {
		if syncerr.KindOf(err) != syncerr.KindUnknown {
			return nil, err
		}
		return nil, syncerr.Wrapf(syncerr.KindFetcher, "fetcher.file", err, "interface %s", iface)
	}

	var ds *dataset.Dataset
	switch ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(path, "/"))); ext {
	case ".csv", ".txt":
		ds, err = parseCSV(content, f.delimiter)
	case ".xlsx", ".xlsm":
		ds, err = parseXLSX(content, f.sheet)
	default:
		return nil, syncerr.Fetcherf("fetcher.file", "unsupported file type %q for interface %s", ext, iface)
	}
	if err != nil {
		return nil, syncerr.Wrapf(syncerr.KindFetcher, "fetcher.file", err, "failed to parse %s", path)
	}

	f.logger.Debug().Str("interface", iface).Str("path", path).Int("rows", ds.Len()).Msg("file fetched")
	return &Result{Dataset: ds, Metadata: newMetadata(f.Name(), iface, params, ds, f.now())}, nil
}

// expandPath подставляет {name} из параметров
func expandPath(tmpl string, params map[string]any) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(params)*2)
	for _, k := range sortedKeys(params) {
		pairs = append(pairs, "{"+k+"}", schema.AsString(params[k]))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (f *File) read(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "s3://") {
		return os.ReadFile(path)
	}

	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing S3 URL %s: %w", path, err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid S3 URL %s, expected s3://bucket/key", path)
	}

	client, err := f.client(ctx)
	if err != nil {
		return nil, err
	}
	buf := manager.NewWriteAtBuffer(nil)
	_, err = manager.NewDownloader(client).Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &nsb) {
			return nil, syncerr.Fetcherf("fetcher.file", "S3 object %s does not exist", path)
		}
		return nil, fmt.Errorf("fetching S3 object %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// client лениво создает S3 клиент
func (f *File) client(ctx context.Context) (*s3.Client, error) {
	f.s3once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if f.s3cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(f.s3cfg.Region))
		}
		if f.s3cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(f.s3cfg.AccessKey, f.s3cfg.SecretKey, "")))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			f.s3err = syncerr.Wrap(syncerr.KindConfiguration, "fetcher.file", fmt.Errorf("failed to load AWS config: %w", err))
			return
		}
		f.s3client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if f.s3cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(f.s3cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return f.s3client, f.s3err
}

// parseCSV: первая строка - заголовок, пустые ячейки дают nil
func parseCSV(content []byte, delimiter rune) (*dataset.Dataset, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.Comma = delimiter
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return &dataset.Dataset{}, nil
	}
	if err != nil {
		return nil, err
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return fromStrings(header, rows)
}

// parseXLSX читает лист (по умолчанию первый) так же, как CSV
func parseXLSX(content []byte, sheet string) (*dataset.Dataset, error) {
	x, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer x.Close()

	if sheet == "" {
		sheets := x.GetSheetList()
		if len(sheets) == 0 {
			return &dataset.Dataset{}, nil
		}
		sheet = sheets[0]
	}
	rows, err := x.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return &dataset.Dataset{}, nil
	}
	return fromStrings(rows[0], rows[1:])
}

func fromStrings(header []string, rows [][]string) (*dataset.Dataset, error) {
	seen := make(map[string]bool, len(header))
	cols := make([]dataset.Column, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		cols[i] = dataset.Column{Name: h}
	}

	ds := dataset.New(cols...)
	ds.Rows = make([][]any, 0, len(rows))
	for _, rec := range rows {
		row := make([]any, len(cols))
		for i := range cols {
			if i < len(rec) && rec[i] != "" {
				row[i] = rec[i]
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	for i := range ds.Columns {
		ds.Columns[i].Category = schema.Classify(ds.ColumnValues(i))
	}
	return ds, nil
}
