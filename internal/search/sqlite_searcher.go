package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/canonical/docsearch/internal/metrics"
	"github.com/canonical/docsearch/internal/version"
)

// Result is one hit. Slug is the manual folder the hit links into, chosen
// for the version the demand asked for.
type Result struct {
	Document
	Slug string `json:"slug"`
}

// Link is the path of the hit below the manuals base URL.
func (r Result) Link() string {
	link := path.Join(r.Slug, r.RelativeURL)
	if r.Fragment != "" {
		link += "#" + r.Fragment
	}
	return link
}

// ResultPage is everything a search returns. It holds no reference to the
// searcher so pages can be rendered concurrently.
type ResultPage struct {
	Demand       Demand        `json:"demand"`
	Results      []Result      `json:"results"`
	Pagination   Pagination    `json:"pagination"`
	Aggregations []Aggregation `json:"aggregations"`
}

type SQLiteSearcher struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

func NewSQLiteSearcher(ctx context.Context, path string, m *metrics.Metrics) (*SQLiteSearcher, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteSearcher{db: db, metrics: m}, nil
}

func (s *SQLiteSearcher) Close() error {
	return s.db.Close()
}

// Ping checks that the index database is reachable.
func (s *SQLiteSearcher) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

const fromClause = ` FROM sections_fts f JOIN sections s ON s.rowid = f.rowid`

// Search runs d against the index. Hits honour every filter; each facet is
// counted with every filter except its own.
func (s *SQLiteSearcher) Search(ctx context.Context, d Demand) (ResultPage, error) {
	start := time.Now()
	page, err := s.search(ctx, d)
	s.metrics.RecordSearch(len(page.Results), time.Since(start), err)
	return page, err
}

func (s *SQLiteSearcher) search(ctx context.Context, d Demand) (ResultPage, error) {
	if d.Page < 1 {
		d.Page = 1
	}
	page := ResultPage{Demand: d, Results: []Result{}, Pagination: Paginate(d.Page, 0)}

	match := escapeQuery(d.Query)
	if match == "" {
		return page, nil
	}

	reg, err := s.loadRegistry(ctx)
	if err != nil {
		return ResultPage{}, err
	}
	q := queryBuilder{match: match, demand: d, registry: reg}

	where, args := q.where("")
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+fromClause+where, args...).Scan(&total); err != nil {
		return ResultPage{}, fmt.Errorf("count hits: %w", err)
	}
	page.Pagination = Paginate(d.Page, total)

	if total > 0 {
		hits, err := s.hits(ctx, where, args, page.Pagination.Offset())
		if err != nil {
			return ResultPage{}, err
		}
		requested := d.RequestedVersion()
		for _, doc := range hits {
			page.Results = append(page.Results, Result{Document: doc, Slug: reg.slugFor(doc, requested)})
		}
	}

	aggs, err := s.aggregations(ctx, q)
	if err != nil {
		return ResultPage{}, err
	}
	page.Aggregations = SortAggregations(aggs, version.Asc)
	return page, nil
}

func (s *SQLiteSearcher) hits(ctx context.Context, where string, args []any, offset int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+fromClause+where+` ORDER BY f.rank LIMIT ? OFFSET ?`,
		append(args, PerPage, offset)...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return docs, nil
}

// Suggest returns up to limit distinct section titles of the best hits of
// d, ignoring pagination.
func (s *SQLiteSearcher) Suggest(ctx context.Context, d Demand, limit int) ([]string, error) {
	match := escapeQuery(d.Query)
	if match == "" || limit <= 0 {
		return []string{}, nil
	}
	reg, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	q := queryBuilder{match: match, demand: d, registry: reg}
	where, args := q.where("")

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.snippet_title`+fromClause+where+` ORDER BY f.rank LIMIT ?`,
		append(args, limit*5)...)
	if err != nil {
		return nil, fmt.Errorf("suggest query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	titles := []string{}
	seen := map[string]bool{}
	for rows.Next() && len(titles) < limit {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		if seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return titles, nil
}

func (s *SQLiteSearcher) aggregations(ctx context.Context, q queryBuilder) ([]Aggregation, error) {
	typeAgg := Aggregation{Label: LabelType, Field: FieldType, Buckets: []Bucket{}}
	where, args := q.where(FieldType)
	rows, err := s.countRows(ctx,
		`SELECT s.manual_type, s.manual_title, COUNT(*)`+fromClause+where+
			` GROUP BY s.manual_type, s.manual_title`, args)
	if err != nil {
		return nil, fmt.Errorf("document type facet: %w", err)
	}
	byType := map[string]int{}
	for _, r := range rows {
		i, ok := byType[r.key]
		if !ok {
			i = len(typeAgg.Buckets)
			byType[r.key] = i
			typeAgg.Buckets = append(typeAgg.Buckets, Bucket{
				Value:    r.key,
				Selected: q.demand.IsSelected(FieldType, r.key),
			})
		}
		b := &typeAgg.Buckets[i]
		b.Count += r.count
		b.Children = append(b.Children, Bucket{Value: r.sub, Count: r.count})
	}
	for i := range typeAgg.Buckets {
		sortBuckets(typeAgg.Buckets[i].Children)
	}
	sortBuckets(typeAgg.Buckets)

	langAgg := Aggregation{Label: LabelLanguage, Field: FieldLanguage, Buckets: []Bucket{}}
	where, args = q.where(FieldLanguage)
	rows, err = s.countRows(ctx,
		`SELECT s.manual_language, '', COUNT(*)`+fromClause+where+` GROUP BY s.manual_language`, args)
	if err != nil {
		return nil, fmt.Errorf("language facet: %w", err)
	}
	for _, r := range rows {
		langAgg.Buckets = append(langAgg.Buckets, Bucket{
			Value:    r.key,
			Count:    r.count,
			Selected: q.demand.IsSelected(FieldLanguage, r.key),
		})
	}
	sortBuckets(langAgg.Buckets)

	versionAgg := Aggregation{Label: LabelVersion, Field: FieldMajorVersions, Buckets: []Bucket{}}
	where, args = q.where(FieldMajorVersions)
	major := majorOf("jv.value")
	rows, err = s.countRows(ctx,
		`SELECT `+major+`, '', COUNT(DISTINCT s.id)`+fromClause+
			` JOIN json_each(s.manual_version) jv`+where+` GROUP BY `+major, args)
	if err != nil {
		return nil, fmt.Errorf("version facet: %w", err)
	}
	counts := map[string]int{}
	majors := make([]string, 0, len(rows))
	for _, r := range rows {
		counts[r.key] = r.count
		majors = append(majors, r.key)
	}
	for _, m := range version.Sort(majors, version.Desc) {
		versionAgg.Buckets = append(versionAgg.Buckets, Bucket{
			Value:    m,
			Count:    counts[m],
			Selected: q.demand.IsSelected(FieldMajorVersions, m),
		})
	}

	return []Aggregation{typeAgg, langAgg, versionAgg}, nil
}

type countRow struct {
	key   string
	sub   string
	count int
}

func (s *SQLiteSearcher) countRows(ctx context.Context, query string, args []any) ([]countRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []countRow
	for rows.Next() {
		var r countRow
		if err := rows.Scan(&r.key, &r.sub, &r.count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func sortBuckets(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Value < buckets[j].Value
	})
}

// majorOf is the SQL expression for the leading dot-separated component of
// the version in col.
func majorOf(col string) string {
	return `CASE WHEN instr(` + col + `, '.') > 0 THEN substr(` + col + `, 1, instr(` + col + `, '.') - 1) ELSE ` + col + ` END`
}

const manualKeyExpr = `s.manual_title || char(31) || s.manual_type || char(31) || s.manual_language`

const registeredExpr = `EXISTS (SELECT 1 FROM manuals m
	WHERE m.title = s.manual_title AND m.type = s.manual_type AND m.language = s.manual_language)`

// queryBuilder renders the WHERE clause shared by hits and facets.
type queryBuilder struct {
	match    string
	demand   Demand
	registry *registry
}

// where returns the conditions of the demand, leaving out the filters of
// field except.
func (q queryBuilder) where(except string) (string, []any) {
	conds := []string{`sections_fts MATCH ?`}
	args := []any{q.match}

	if scope := q.demand.Scope; scope != "" {
		if m, ok := q.registry.bySlug[scope]; ok {
			conds = append(conds, `s.manual_title = ? AND s.manual_type = ? AND s.manual_language = ? AND `+containsVersionOf("s"))
			args = append(args, m.title, m.typ, m.language, m.version)
		} else {
			conds = append(conds, `(s.manual_slug = ? OR s.manual_slug LIKE ? ESCAPE '\')`)
			args = append(args, scope, escapeLike(scope)+"/%")
		}
	}

	fields := make([]string, 0, len(q.demand.Filters))
	for field := range q.demand.Filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		values := q.demand.Filters[field]
		if field == except || len(values) == 0 {
			continue
		}
		switch field {
		case FieldType, FieldLanguage:
			conds = append(conds, `s.`+field+` IN (`+placeholders(len(values))+`)`)
			for _, v := range values {
				args = append(args, v)
			}
		case FieldMajorVersions:
			cond, condArgs := q.versionCondition(values)
			conds = append(conds, cond)
			args = append(args, condArgs...)
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q queryBuilder) versionCondition(values []string) (string, []any) {
	var majors []any
	latest := false
	for _, v := range values {
		if v == version.Latest {
			latest = true
			continue
		}
		majors = append(majors, version.Major(v))
	}

	var ors []string
	var args []any
	if latest {
		ors = append(ors, manualKeyExpr+` || char(31) || v.value IN (SELECT value FROM json_each(?))`)
		args = append(args, q.registry.latestKeys)
	}
	if len(majors) > 0 {
		ors = append(ors, majorOf("v.value")+` IN (`+placeholders(len(majors))+`)`)
		args = append(args, majors...)
	}
	cond := `EXISTS (SELECT 1 FROM json_each(s.manual_version) v WHERE ` + strings.Join(ors, " OR ") + `)`
	if latest {
		cond = `(` + cond + ` OR NOT ` + registeredExpr + `)`
	}
	return cond, args
}

func containsVersionOf(alias string) string {
	return `EXISTS (SELECT 1 FROM json_each(` + alias + `.manual_version) WHERE value = ?)`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// escapeQuery turns free text into an FTS5 query: every term becomes a
// quoted prefix phrase so operators and syntax characters match literally.
// Terms without a letter or digit are dropped.
func escapeQuery(q string) string {
	var terms []string
	for _, t := range strings.Fields(q) {
		if !strings.ContainsFunc(t, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " ")
}

type manualKey struct {
	title    string
	typ      string
	language string
}

type registeredManual struct {
	manualKey
	slug    string
	version string
}

// registry is a snapshot of the manuals table taken for one search.
type registry struct {
	byKey  map[manualKey][]registeredManual
	bySlug map[string]registeredManual
	// latestKeys is a JSON array of "title\x1ftype\x1flanguage\x1fversion"
	// strings, one per manual, naming its latest version.
	latestKeys string
}

func (s *SQLiteSearcher) loadRegistry(ctx context.Context) (*registry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, title, type, version, language FROM manuals ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("load manuals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	reg := &registry{
		byKey:  map[manualKey][]registeredManual{},
		bySlug: map[string]registeredManual{},
	}
	for rows.Next() {
		var m registeredManual
		if err := rows.Scan(&m.slug, &m.title, &m.typ, &m.version, &m.language); err != nil {
			return nil, fmt.Errorf("scan manual: %w", err)
		}
		reg.byKey[m.manualKey] = append(reg.byKey[m.manualKey], m)
		reg.bySlug[m.slug] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manuals: %w", err)
	}

	keys := make([]string, 0, len(reg.byKey))
	for key, manuals := range reg.byKey {
		versions := make([]string, 0, len(manuals))
		for _, m := range manuals {
			versions = append(versions, m.version)
		}
		latest := version.Sort(versions, version.Desc)[0]
		keys = append(keys, strings.Join([]string{key.title, key.typ, key.language, latest}, "\x1f"))
	}
	sort.Strings(keys)
	raw, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("encode latest versions: %w", err)
	}
	reg.latestKeys = string(raw)
	return reg, nil
}

// slugFor picks the manual folder a hit should link into. Only versions the
// document actually appears in are considered.
func (r *registry) slugFor(doc Document, requested string) string {
	manuals := r.byKey[manualKey{title: doc.ManualTitle, typ: doc.ManualType, language: doc.ManualLanguage}]
	var slugs []string
	for _, m := range manuals {
		if contains(doc.ManualVersions, m.version) {
			slugs = append(slugs, m.slug)
		}
	}
	if len(slugs) == 0 {
		return doc.ManualSlug
	}
	return version.ResolveSlug(slugs, doc.ManualVersions, requested)
}
