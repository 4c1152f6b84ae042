package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/streamd/internal/types"
)

func fastRetry() Option {
	return WithRetry(3, time.Millisecond)
}

func TestNeteaseSongURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/song/url/v1", r.URL.Path)
		assert.Equal(t, "1901371647", r.URL.Query().Get("id"))
		assert.Equal(t, "exhigh", r.URL.Query().Get("level"))
		assert.Contains(t, r.URL.Query().Get("cookie"), "os=pc")
		w.Write([]byte(`{"code":200,"data":[{"id":1901371647,"url":"http://m/1.mp3","br":320000,"fee":1,"freeTrialInfo":{"start":0,"end":30}}]}`))
	}))
	defer srv.Close()

	c := NewNetease(srv.URL, "", fastRetry())
	song, err := c.SongURL(context.Background(), "1901371647")
	require.NoError(t, err)
	assert.Equal(t, "http://m/1.mp3", song.URL)
	assert.Equal(t, 1, song.Fee)
	assert.Equal(t, 320000, song.BR)
	assert.True(t, song.HasTrial())
}

func TestNeteaseSongURLEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":[]}`))
	}))
	defer srv.Close()

	_, err := NewNetease(srv.URL, "", fastRetry()).SongURL(context.Background(), "1")
	assert.ErrorIs(t, err, ErrAPI)
}

func TestNeteaseRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"code":200,"lrc":{"lyric":"[00:01.00]hi"},"tlyric":{"lyric":"[00:01.00]salut"}}`))
	}))
	defer srv.Close()

	lrc, err := NewNetease(srv.URL, "", fastRetry()).Lyric(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "[00:01.00]hi", lrc.Lyric)
	assert.Equal(t, "[00:01.00]salut", lrc.Translation)
}

func TestNeteaseGivesUpAfterAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewNetease(srv.URL, "", fastRetry()).SongURL(context.Background(), "1")
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNeteaseClientErrorsArePermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewNetease(srv.URL, "", fastRetry()).SongURL(context.Background(), "1")
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNeteaseLikeAndLikedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/like":
			assert.Equal(t, "false", r.URL.Query().Get("like"))
			w.Write([]byte(`{"code":200}`))
		case "/likelist":
			assert.Equal(t, "42", r.URL.Query().Get("uid"))
			w.Write([]byte(`{"code":200,"ids":[3,1,2]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewNetease(srv.URL, "MUSIC_U=abc", fastRetry())
	require.NoError(t, c.Like(context.Background(), "5", false))

	ids, err := c.LikedList(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2"}, ids)
}

func TestNeteaseAPICode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":301,"msg":"needs login"}`))
	}))
	defer srv.Close()

	err := NewNetease(srv.URL, "", fastRetry()).Like(context.Background(), "5", true)
	assert.ErrorIs(t, err, ErrAPI)
}

func TestUnblock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/match", r.URL.Path)
		assert.Equal(t, "Song", r.URL.Query().Get("name"))
		assert.Equal(t, "A B", r.URL.Query().Get("artist"))
		w.Write([]byte(`{"code":200,"data":{"url":"http://alt/1.mp3"}}`))
	}))
	defer srv.Close()

	track := &types.Track{ID: "1", Name: "Song", Artists: []types.Artist{{Name: "A"}, {Name: "B"}}}
	u, err := NewUnblock(srv.URL+"/", fastRetry()).Unblock(context.Background(), track)
	require.NoError(t, err)
	assert.Equal(t, "http://alt/1.mp3", u)
}

func TestUnblockNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{}}`))
	}))
	defer srv.Close()

	_, err := NewUnblock(srv.URL, fastRetry()).Unblock(context.Background(), &types.Track{ID: "1"})
	assert.ErrorIs(t, err, ErrAPI)

	_, err = NewUnblock("").Unblock(context.Background(), &types.Track{ID: "1"})
	assert.ErrorIs(t, err, ErrAPI)
}

func TestUnblockHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewUnblock(srv.URL, fastRetry()).Unblock(ctx, &types.Track{ID: "1"})
	assert.Error(t, err)
}

func TestKuwoPlayURL(t *testing.T) {
	c := NewKuwo("")
	assert.Equal(t, "https://kw-api.cenguigui.cn?format=mp3&id=228908&level=exhigh&type=song", c.PlayURL("228908", ""))
	assert.Contains(t, NewKuwo("http://kw/").PlayURL("1", "lossless"), "http://kw?")
}

func TestKuwoLyric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lyr", r.URL.Query().Get("type"))
		assert.Equal(t, "lineLyric", r.URL.Query().Get("format"))
		w.Write([]byte(`{"code":200,"data":{"lrclist":[{"lineLyric":"first","time":"3.5"},{"lineLyric":"second","time":"75.25"}]}}`))
	}))
	defer srv.Close()

	lrc, err := NewKuwo(srv.URL, fastRetry()).Lyric(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, "[00:03.50]first\n[01:15.25]second", lrc)
}

func TestKuwoLyricInstrumental(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"lrclist":[]}}`))
	}))
	defer srv.Close()

	lrc, err := NewKuwo(srv.URL, fastRetry()).Lyric(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, InstrumentalLyric, lrc)
}

func TestLrcTimestamp(t *testing.T) {
	assert.Equal(t, "[00:00.00]", lrcTimestamp("bogus"))
	assert.Equal(t, "[00:00.00]", lrcTimestamp("-1"))
	assert.Equal(t, "[02:05.00]", lrcTimestamp("125"))
}
