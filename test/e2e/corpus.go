// Package e2e runs retrieval end to end over a generated knowledge-base corpus.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kensaku/internal/models"
)

// Passage is one knowledge-base entry. Keyword is a term that appears in this
// passage and in no other.
type Passage struct {
	ID      string
	Title   string
	Keyword string
	Text    string
}

// QueryCase is a query and the chunk that must come back for it.
type QueryCase struct {
	Query      string
	ExpectedID string
}

// Corpus holds the passages and the queries run against them.
type Corpus struct {
	Passages []Passage
	Cases    []QueryCase
}

var passages = []struct{ title, keyword, text string }{
	{"Glaciers", "moraine", "Glaciers carve valleys as they advance and leave a moraine of rock and gravel when they retreat."},
	{"Volcanoes", "caldera", "After a large eruption empties the magma chamber the summit collapses into a caldera."},
	{"Coral reefs", "zooxanthellae", "Reef building corals depend on zooxanthellae living in their tissue for most of their energy."},
	{"Tides", "perigee", "Tides run higher than usual when the moon is at perigee and aligned with the sun."},
	{"Deserts", "barchan", "Wind blowing steadily from one direction shapes sand into crescent barchan dunes."},
	{"Rainforests", "epiphytes", "Many rainforest plants are epiphytes that grow on tree branches to reach the light."},
	{"Rivers", "meander", "A slow river on flat ground swings from side to side in a meander that migrates downstream."},
	{"Caves", "stalactite", "Dripping mineral water slowly builds a stalactite hanging from the ceiling of a cave."},
	{"Earthquakes", "seismograph", "A seismograph records the ground motion of an earthquake as a trace of waves."},
	{"Aurora", "magnetosphere", "Charged particles funneled by the magnetosphere light up the polar sky as an aurora."},
	{"Photosynthesis", "chlorophyll", "Leaves capture sunlight with chlorophyll and turn carbon dioxide and water into sugar."},
	{"Bird migration", "flyway", "Migrating birds follow the same flyway every year between breeding and wintering grounds."},
	{"Bees", "propolis", "Honey bees seal small gaps in the hive with propolis made from tree resin."},
	{"Fungi", "mycelium", "Below the forest floor a mycelium network links the roots of neighbouring trees."},
	{"Octopus", "chromatophores", "An octopus changes colour in a fraction of a second by expanding its chromatophores."},
	{"Whales", "baleen", "Filter feeding whales strain krill from seawater through plates of baleen."},
	{"Tardigrades", "cryptobiosis", "Tardigrades survive drying out completely by entering cryptobiosis until water returns."},
	{"Bamboo", "rhizome", "Bamboo spreads quickly because new shoots rise from an underground rhizome."},
	{"Comets", "coma", "As a comet nears the sun its ice evaporates into a glowing coma around the nucleus."},
	{"Black holes", "spaghettification", "Tidal forces near a small black hole stretch infalling matter in a process called spaghettification."},
	{"Exoplanets", "transit", "Astronomers detect many exoplanets by the dip in starlight during a transit across the star."},
	{"Saturn rings", "shepherd", "Small shepherd moons keep the narrow rings of Saturn confined to sharp edges."},
	{"Lighthouses", "fresnel", "A fresnel lens lets a lighthouse throw a beam far out to sea with a thin piece of glass."},
	{"Bridges", "cantilever", "A cantilever bridge extends arms from its piers that meet in the middle of the span."},
	{"Canals", "lock", "Boats climb a hill on a canal by rising in one lock chamber after another."},
	{"Windmills", "tailvane", "A tailvane on a windmill turns the sails to face the wind without a miller."},
	{"Clocks", "escapement", "The escapement of a mechanical clock releases the gear train one tooth at a time."},
	{"Printing", "typesetting", "Before computers typesetting meant arranging metal letters by hand in a composing stick."},
	{"Maps", "isobar", "Weather maps join points of equal air pressure with an isobar line."},
	{"Bread", "levain", "Sourdough bread rises with a levain of wild yeast and bacteria instead of packaged yeast."},
	{"Cheese", "rennet", "Cheesemakers add rennet to milk so that the proteins curdle into a firm curd."},
	{"Tea", "oxidation", "Black and green tea come from the same plant; black tea leaves go through full oxidation."},
}

// BuildCorpus returns the passages and one query case per passage keyword.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, p := range passages {
		id := fmt.Sprintf("kb-%03d", i+1)
		c.Passages = append(c.Passages, Passage{ID: id, Title: p.title, Keyword: p.keyword, Text: p.text})
		c.Cases = append(c.Cases, QueryCase{Query: p.keyword, ExpectedID: id})
	}
	return c
}

// Chunks converts the passages to chunks with the title kept as metadata.
func (c *Corpus) Chunks() []models.Chunk {
	out := make([]models.Chunk, len(c.Passages))
	for i, p := range c.Passages {
		out[i] = models.Chunk{
			ID:       p.ID,
			Text:     p.Text,
			Metadata: map[string]interface{}{"title": p.Title},
		}
	}
	return out
}

// containsKeyword reports whether text holds keyword as a whole word.
func containsKeyword(text, keyword string) bool {
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if w == strings.ToLower(keyword) {
			return true
		}
	}
	return false
}
