package postgres

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// orEmpty maps a nullable text column back to "".
func orEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
