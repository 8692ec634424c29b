package suspicion

import (
	"time"

	"github.com/micro-ha/follower-watch/internal/geo"
	"github.com/micro-ha/follower-watch/internal/model"
)

type cluster struct {
	center  model.Position
	members []model.Sighting
	first   time.Time
	last    time.Time
}

// clusterSightings assigns time-ordered sightings to the nearest cluster
// within threshold meters, moving its centroid to the members' mean, or opens
// a new cluster. It returns the clusters in creation order and the cluster
// index of every sighting.
func clusterSightings(sorted []model.Sighting, threshold float64) ([]*cluster, []int) {
	clusters := []*cluster{}
	assignment := make([]int, len(sorted))

	for i, s := range sorted {
		nearest, nearestDist := -1, 0.0
		for idx, c := range clusters {
			d := geo.Distance(s.Position, c.center)
			if nearest < 0 || d < nearestDist {
				nearest, nearestDist = idx, d
			}
		}

		if nearest >= 0 && nearestDist <= threshold {
			c := clusters[nearest]
			c.members = append(c.members, s)
			c.center = centroid(c.members)
			if s.Timestamp.Before(c.first) {
				c.first = s.Timestamp
			}
			if s.Timestamp.After(c.last) {
				c.last = s.Timestamp
			}
			assignment[i] = nearest
			continue
		}

		clusters = append(clusters, &cluster{
			center:  model.Position{Latitude: s.Position.Latitude, Longitude: s.Position.Longitude},
			members: []model.Sighting{s},
			first:   s.Timestamp,
			last:    s.Timestamp,
		})
		assignment[i] = len(clusters) - 1
	}
	return clusters, assignment
}

func centroid(members []model.Sighting) model.Position {
	var lat, lon float64
	for _, m := range members {
		lat += m.Position.Latitude
		lon += m.Position.Longitude
	}
	n := float64(len(members))
	return model.Position{Latitude: lat / n, Longitude: lon / n}
}
