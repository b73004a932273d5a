// Package taxonomy holds the classification vocabulary: every category a
// submission may be filed under, with its archive and domain. Classification
// events validate against this table.
package taxonomy

import (
	"sort"

	"papertrail/internal/domain"
)

type Category struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Archive string `json:"archive"`
	Domain  string `json:"domain"`
}

// Categories is the active category table, keyed by category ID.
var Categories = map[string]Category{}

func register(domainName, archive string, pairs ...[2]string) {
	for _, p := range pairs {
		Categories[p[0]] = Category{ID: p[0], Name: p[1], Archive: archive, Domain: domainName}
	}
}

func init() {
	register("Physics", "astro-ph",
		[2]string{"astro-ph.CO", "Cosmology and Nongalactic Astrophysics"},
		[2]string{"astro-ph.GA", "Astrophysics of Galaxies"},
		[2]string{"astro-ph.HE", "High Energy Astrophysical Phenomena"},
	)
	register("Physics", "cond-mat",
		[2]string{"cond-mat.dis-nn", "Disordered Systems and Neural Networks"},
		[2]string{"cond-mat.mes-hall", "Mesoscale and Nanoscale Physics"},
		[2]string{"cond-mat.mtrl-sci", "Materials Science"},
		[2]string{"cond-mat.stat-mech", "Statistical Mechanics"},
		[2]string{"cond-mat.str-el", "Strongly Correlated Electrons"},
	)
	register("Physics", "gr-qc", [2]string{"gr-qc", "General Relativity and Quantum Cosmology"})
	register("Physics", "hep-ex", [2]string{"hep-ex", "High Energy Physics - Experiment"})
	register("Physics", "hep-lat", [2]string{"hep-lat", "High Energy Physics - Lattice"})
	register("Physics", "hep-ph", [2]string{"hep-ph", "High Energy Physics - Phenomenology"})
	register("Physics", "hep-th", [2]string{"hep-th", "High Energy Physics - Theory"})
	register("Physics", "math-ph", [2]string{"math-ph", "Mathematical Physics"})
	register("Physics", "nucl-ex", [2]string{"nucl-ex", "Nuclear Experiment"})
	register("Physics", "nucl-th", [2]string{"nucl-th", "Nuclear Theory"})
	register("Physics", "quant-ph", [2]string{"quant-ph", "Quantum Physics"})
	register("Physics", "physics",
		[2]string{"physics.acc-ph", "Accelerator Physics"},
		[2]string{"physics.data-an", "Data Analysis, Statistics and Probability"},
		[2]string{"physics.flu-dyn", "Fluid Dynamics"},
		[2]string{"physics.optics", "Optics"},
	)
	register("Mathematics", "math",
		[2]string{"math.AG", "Algebraic Geometry"},
		[2]string{"math.AP", "Analysis of PDEs"},
		[2]string{"math.CO", "Combinatorics"},
		[2]string{"math.DG", "Differential Geometry"},
		[2]string{"math.NT", "Number Theory"},
		[2]string{"math.PR", "Probability"},
		[2]string{"math.ST", "Statistics Theory"},
	)
	register("Computer Science", "cs",
		[2]string{"cs.AI", "Artificial Intelligence"},
		[2]string{"cs.CC", "Computational Complexity"},
		[2]string{"cs.CL", "Computation and Language"},
		[2]string{"cs.CV", "Computer Vision and Pattern Recognition"},
		[2]string{"cs.DC", "Distributed, Parallel, and Cluster Computing"},
		[2]string{"cs.DS", "Data Structures and Algorithms"},
		[2]string{"cs.IT", "Information Theory"},
		[2]string{"cs.LG", "Machine Learning"},
		[2]string{"cs.SE", "Software Engineering"},
	)
	register("Quantitative Biology", "q-bio",
		[2]string{"q-bio.NC", "Neurons and Cognition"},
		[2]string{"q-bio.PE", "Populations and Evolution"},
	)
	register("Quantitative Finance", "q-fin",
		[2]string{"q-fin.PR", "Pricing of Securities"},
		[2]string{"q-fin.ST", "Statistical Finance"},
	)
	register("Statistics", "stat",
		[2]string{"stat.ME", "Methodology"},
		[2]string{"stat.ML", "Machine Learning"},
	)
	register("Economics", "econ", [2]string{"econ.EM", "Econometrics"})
	register("Electrical Engineering and Systems Science", "eess",
		[2]string{"eess.IV", "Image and Video Processing"},
		[2]string{"eess.SP", "Signal Processing"},
	)
}

// Valid reports whether the category ID exists in the table.
func Valid(id string) bool {
	_, ok := Categories[id]
	return ok
}

func Get(id string) (Category, bool) {
	c, ok := Categories[id]
	return c, ok
}

// Classification resolves a category ID into the domain value carried on
// submissions.
func Classification(id string) (domain.Classification, bool) {
	c, ok := Categories[id]
	if !ok {
		return domain.Classification{}, false
	}
	return domain.Classification{Domain: c.Domain, Archive: c.Archive, Category: c.ID}, true
}

// All returns every category ordered by ID.
func All() []Category {
	out := make([]Category, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
