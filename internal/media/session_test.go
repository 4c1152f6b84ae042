package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtworkVariants(t *testing.T) {
	arts := ArtworkVariants("https://p1.example/cover.jpg")
	require.Len(t, arts, len(ArtworkSizes))
	assert.Equal(t, "https://p1.example/cover.jpg?param=96y96", arts[0].URL)
	assert.Equal(t, 512, arts[len(arts)-1].Size)

	withQuery := ArtworkVariants("https://p1.example/cover.jpg?x=1")
	assert.Equal(t, "https://p1.example/cover.jpg?x=1&param=96y96", withQuery[0].URL)

	assert.Nil(t, ArtworkVariants(""))
}

func TestMetadataHelpers(t *testing.T) {
	md := Metadata{
		Artists: []string{"A", "B"},
		Artwork: ArtworkVariants("https://p1.example/c.jpg"),
	}
	assert.Equal(t, "A / B", md.Artist())
	assert.Equal(t, "https://p1.example/c.jpg?param=512y512", md.LargestArtwork())
	assert.Equal(t, "", Metadata{}.LargestArtwork())
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	require.NoError(t, r.UpdateMetadata(Metadata{Title: "song"}))
	require.NoError(t, r.UpdatePlaybackState(StatePlaying, 3*time.Second))
	assert.Equal(t, "song", r.Metadata().Title)
	assert.Equal(t, StatePlaying, r.State())
	assert.Equal(t, 3*time.Second, r.Position().Position)

	require.NoError(t, r.UpdatePositionState(PositionState{Duration: time.Minute, Rate: 1.5, Position: 10 * time.Second}))
	assert.Equal(t, 1.5, r.Position().Rate)

	require.NoError(t, r.UpdateShuffle(true))
	require.NoError(t, r.UpdateLoopStatus(LoopTrack))
	shuffle, loop := r.Modes()
	assert.True(t, shuffle)
	assert.Equal(t, LoopTrack, loop)
}

func TestRecorderDispatch(t *testing.T) {
	r := NewRecorder()
	assert.Error(t, r.Dispatch(CmdPlay, nil))

	var got []Command
	r.SetCommandHandler(CommandHandlerFunc(func(cmd Command, data interface{}) error {
		got = append(got, cmd)
		return nil
	}))
	require.NoError(t, r.Dispatch(CmdSeekRelative, 5*time.Second))
	assert.Equal(t, []Command{CmdSeekRelative}, got)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "SeekTo", CmdSeekTo.String())
	assert.Equal(t, "SeekRelative", CmdSeekRelative.String())
	assert.Equal(t, "Unknown", Command(99).String())
	assert.Equal(t, "Paused", StatePaused.String())
}
