package sharedfs

type Usage struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}

// Usage reports the volume holding the shared root.
func (r *Root) Usage() (*Usage, error) {
	total, used, free, err := volumeStats(r.path)
	if err != nil {
		return nil, err
	}
	return &Usage{Total: total, Used: used, Free: free}, nil
}
