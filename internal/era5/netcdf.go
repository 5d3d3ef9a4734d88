package era5

import (
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"go.uber.org/zap"
)

// Summary describes the layout of a downloaded NetCDF file.
type Summary struct {
	Dimensions map[string]uint64
	Variables  []string
}

// Summarize opens a NetCDF (classic or HDF5-based) file and reads its
// dimensions and variable names.
func Summarize(path string) (Summary, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer nc.Close()

	s := Summary{Dimensions: make(map[string]uint64)}
	for _, name := range nc.ListDimensions() {
		if n, ok := nc.GetDimension(name); ok {
			s.Dimensions[name] = n
		}
	}
	s.Variables = nc.ListVariables()
	sort.Strings(s.Variables)
	return s, nil
}

// Fields returns the summary as log fields.
func (s Summary) Fields() []zap.Field {
	dims := make([]string, 0, len(s.Dimensions))
	for name := range s.Dimensions {
		dims = append(dims, name)
	}
	sort.Strings(dims)

	fields := []zap.Field{zap.Strings("variables", s.Variables)}
	for _, name := range dims {
		fields = append(fields, zap.Uint64("dim_"+name, s.Dimensions[name]))
	}
	return fields
}
