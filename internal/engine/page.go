package engine

import "sort"

// orderRows sorts the matching set into the requested total order. Ties are
// always broken by device id so repeated queries return stable pages even as
// devices are added between them.
func orderRows(rows []DeviceRow, order OrderBy) {
	switch order {
	case OrderByLastHeard:
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].LastHeard.Equal(rows[j].LastHeard) {
				return rows[i].LastHeard.After(rows[j].LastHeard)
			}
			return rows[i].ID < rows[j].ID
		})
	default: // OrderByName
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Name != rows[j].Name {
				return rows[i].Name < rows[j].Name
			}
			return rows[i].ID < rows[j].ID
		})
	}
}

// slicePage returns the rows in [page*size, (page+1)*size). A page past the
// end of the set is an empty slice, not an error.
func slicePage(rows []DeviceRow, page *Page) []DeviceRow {
	if page == nil {
		return rows
	}

	start := page.Number * page.Size
	if start >= len(rows) {
		return []DeviceRow{}
	}

	end := start + page.Size
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
